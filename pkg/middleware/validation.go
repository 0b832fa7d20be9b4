package middleware

import (
	"mime"
	"net/http"

	"campus-orgs-backend/pkg/utils"
)

// ContentTypeJSON 验证请求Content-Type为application/json
func ContentTypeJSON(next http.Handler) http.Handler {
	return requireContentType("application/json")(next)
}

// ContentTypeMultipart 验证上传请求为 multipart/form-data
func ContentTypeMultipart(next http.Handler) http.Handler {
	return requireContentType("multipart/form-data")(next)
}

func requireContentType(want string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 只对POST、PUT、PATCH请求验证Content-Type
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
				next.ServeHTTP(w, r)
				return
			}

			contentType := r.Header.Get("Content-Type")
			if contentType == "" {
				utils.WriteBadRequestResponse(w, "Content-Type header is required")
				return
			}

			// 忽略charset/boundary等参数
			mediaType, _, err := mime.ParseMediaType(contentType)
			if err != nil || mediaType != want {
				utils.WriteBadRequestResponse(w, "Content-Type must be "+want)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// MaxBodySize 限制请求体大小
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
