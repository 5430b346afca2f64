package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS 允许任意来源跨域访问，预检请求由 cors 直接应答
var CORS = cors.Handler(cors.Options{
	AllowedOrigins: []string{"*"},
	AllowedMethods: []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
	},
	AllowedHeaders: []string{
		"Accept", "Authorization", "Content-Type", "Origin", "X-Requested-With", "X-Request-Id",
	},
	ExposedHeaders:   []string{"X-Request-Id"},
	AllowCredentials: false,
	MaxAge:           86400,
})
