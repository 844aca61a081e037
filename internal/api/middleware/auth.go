package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/timeline-engine/pkg/response"
)

const subjectKey = "timeline_subject"

var errMissingToken = errors.New("missing bearer token")

// Auth 校验 HS256 Bearer token，并把 sub 放进上下文。secret 为空时不做校验。
func Auth(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	key := []byte(secret)
	return func(c *gin.Context) {
		sub, err := parseSubject(c.GetHeader("Authorization"), key)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}
		c.Set(subjectKey, sub)
		c.Next()
	}
}

// Subject 返回已认证的用户；未启用鉴权时 ok=false
func Subject(c *gin.Context) (string, bool) {
	v, ok := c.Get(subjectKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func parseSubject(header string, key []byte) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errMissingToken
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// IssueToken 签发 HS256 token（CLI 与测试使用）
func IssueToken(secret, subject string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject}).
		SignedString([]byte(secret))
}
