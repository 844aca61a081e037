// Package docs 注册 swagger 文档（swag init 生成的形式，接口注释见 internal/api/handler）
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/relations/follow": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["关系链"],
                "summary": "关注用户",
                "parameters": [
                    {"description": "关注信息", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.followRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/response.Response"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/relations/unfollow": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["关系链"],
                "summary": "取消关注",
                "parameters": [
                    {"description": "取消关注信息", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.followRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/relations/{user_id}/followers": {
            "get": {
                "tags": ["关系链"],
                "summary": "查询粉丝列表",
                "parameters": [
                    {"type": "string", "description": "用户ID", "name": "user_id", "in": "path", "required": true},
                    {"type": "integer", "default": 1, "description": "页码", "name": "page", "in": "query"},
                    {"type": "integer", "default": 50, "description": "每页数量", "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/relations/{user_id}/following": {
            "get": {
                "tags": ["关系链"],
                "summary": "查询关注列表",
                "parameters": [
                    {"type": "string", "description": "用户ID", "name": "user_id", "in": "path", "required": true},
                    {"type": "integer", "default": 1, "description": "页码", "name": "page", "in": "query"},
                    {"type": "integer", "default": 50, "description": "每页数量", "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/relations/{user_id}/not-followed-back": {
            "get": {
                "tags": ["关系链"],
                "summary": "未回关列表",
                "parameters": [
                    {"type": "string", "description": "用户ID", "name": "user_id", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/relations/mutual-followers": {
            "get": {
                "tags": ["关系链"],
                "summary": "共同粉丝",
                "parameters": [
                    {"type": "string", "description": "用户A", "name": "a", "in": "query", "required": true},
                    {"type": "string", "description": "用户B", "name": "b", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/relations/common-following": {
            "get": {
                "tags": ["关系链"],
                "summary": "共同关注",
                "parameters": [
                    {"type": "string", "description": "用户A", "name": "a", "in": "query", "required": true},
                    {"type": "string", "description": "用户B", "name": "b", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/posts": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["时间线"],
                "summary": "发布内容",
                "parameters": [
                    {"description": "发布内容", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.publishRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/response.Response"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/api/v1/timelines/{user_id}": {
            "get": {
                "tags": ["时间线"],
                "summary": "用户时间线",
                "parameters": [
                    {"type": "string", "description": "用户ID", "name": "user_id", "in": "path", "required": true},
                    {"type": "integer", "default": 50, "description": "条数", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/api/v1/feeds/{user_id}": {
            "get": {
                "tags": ["时间线"],
                "summary": "信息流",
                "parameters": [
                    {"type": "string", "description": "用户ID", "name": "user_id", "in": "path", "required": true},
                    {"type": "integer", "default": 50, "description": "条数", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        }
    },
    "definitions": {
        "handler.followRequest": {
            "type": "object",
            "required": ["followed_id", "follower_id"],
            "properties": {
                "followed_id": {"type": "string"},
                "follower_id": {"type": "string"}
            }
        },
        "handler.publishRequest": {
            "type": "object",
            "required": ["author_id", "content"],
            "properties": {
                "author_id": {"type": "string"},
                "content": {"type": "string", "maxLength": 4096},
                "request_token": {"type": "string", "maxLength": 64}
            }
        },
        "response.Response": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "data": {},
                "message": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Timeline Engine API",
	Description:      "关注关系与时间线服务",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
