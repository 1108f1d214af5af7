// Package docs 由 swag init 生成，修改注解后重新生成
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
        "/users/{uid}/publicKey": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "未发布公钥时返回 404，客户端应提示对方尚未开启加密消息",
                "produces": ["application/json"],
                "tags": ["公钥目录"],
                "summary": "获取公钥",
                "parameters": [{"type": "integer", "description": "用户ID", "name": "uid", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "description": "幂等写入当前用户的公钥，每次会话开始时调用",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["公钥目录"],
                "summary": "发布公钥",
                "parameters": [
                    {"type": "integer", "description": "用户ID", "name": "uid", "in": "path", "required": true},
                    {"description": "公钥", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/service.PublicKeyRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/users/{uid}/presence": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["用户"],
                "summary": "在线状态",
                "parameters": [{"type": "integer", "description": "用户ID", "name": "uid", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/conversations": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "按最后活跃时间倒序；archived=true 返回已归档会话；q 匹配参与者名称、主题和明文的最后一条消息",
                "produces": ["application/json"],
                "tags": ["会话"],
                "summary": "会话列表",
                "parameters": [
                    {"type": "boolean", "description": "是否归档", "name": "archived", "in": "query"},
                    {"type": "string", "description": "搜索关键字", "name": "q", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "任意一方屏蔽了另一方时返回 403，data.direction 为 blocked-by-me 或 blocked-by-them",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["会话"],
                "summary": "创建会话",
                "parameters": [{"description": "会话信息", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/service.CreateConversationRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/conversations/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["会话"],
                "summary": "删除会话",
                "parameters": [{"type": "integer", "description": "会话ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/conversations/{id}/messages": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "按时间正序返回 before 之前的一页消息",
                "produces": ["application/json"],
                "tags": ["会话"],
                "summary": "会话消息",
                "parameters": [
                    {"type": "integer", "description": "会话ID", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "description": "只返回ID小于该值的消息", "name": "before", "in": "query"},
                    {"type": "integer", "description": "每页数量，默认50，最大200", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/conversations/{id}/read": {
            "put": {
                "security": [{"BearerAuth": []}],
                "description": "将会话中他人发送的消息标记为已读，并向发送者推送 read 状态",
                "produces": ["application/json"],
                "tags": ["会话"],
                "summary": "标记已读",
                "parameters": [{"type": "integer", "description": "会话ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/conversations/{id}/{flag}": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "只影响当前用户；body 为 {\"value\": bool} 时设为该值，不传 body 时取反",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["会话"],
                "summary": "星标/静音/归档",
                "parameters": [
                    {"type": "integer", "description": "会话ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "star | mute | archive", "name": "flag", "in": "path", "required": true},
                    {"description": "目标值", "name": "request", "in": "body", "schema": {"$ref": "#/definitions/service.FlagRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}}}
            }
        },
        "/messages": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "clientMsgId 为幂等令牌，重复提交返回同一条消息；发送者总是令牌中的用户",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["消息"],
                "summary": "发送消息",
                "parameters": [{"description": "消息", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/service.SendMessageRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/messages/{id}": {
            "delete": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["消息"],
                "summary": "删除消息",
                "parameters": [{"type": "integer", "description": "消息ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        },
        "/attachments": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "返回的描述 {url, filename, mimetype, size} 原样放入消息的 attachments",
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["附件"],
                "summary": "上传附件",
                "parameters": [{"type": "file", "description": "文件", "name": "file", "in": "formData", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/response.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/response.Response"}}
                }
            }
        }
    },
    "definitions": {
        "response.Response": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "data": {},
                "message": {"type": "string"}
            }
        },
        "service.PublicKeyRequest": {
            "type": "object",
            "required": ["publicKey"],
            "properties": {"publicKey": {"type": "string", "example": "-----BEGIN PARKSHARE PUBLIC KEY-----..."}}
        },
        "service.FlagRequest": {
            "type": "object",
            "properties": {"value": {"type": "boolean", "example": true}}
        },
        "service.CreateConversationRequest": {
            "type": "object",
            "required": ["participants"],
            "properties": {
                "participants": {"type": "array", "items": {"type": "integer"}},
                "subject": {"type": "string", "example": "Spot on Baker St"},
                "initialMessage": {
                    "type": "object",
                    "properties": {
                        "clientMsgId": {"type": "string"},
                        "content": {"type": "string"}
                    }
                }
            }
        },
        "service.SendMessageRequest": {
            "type": "object",
            "required": ["conversationId"],
            "properties": {
                "conversationId": {"type": "integer", "example": 1},
                "clientMsgId": {"type": "string", "example": "0b6c2d0e-3c55-4c0a-8a76-6f1f0b9a1d2e"},
                "content": {"type": "string"},
                "senderId": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "ParkShare Messaging API",
	Description:      "端到端加密消息：公钥目录、会话、消息与附件",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
