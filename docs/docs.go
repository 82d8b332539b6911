// Package docs holds the OpenAPI document served under /docs. It is maintained
// by hand alongside the @Router annotations on the handlers; keep the two in sync.
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
        "/admin/login": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Admin login",
                "parameters": [
                    {
                        "description": "Credentials",
                        "name": "credentials",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.LoginRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.LoginResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        },
        "/admin/reset-votes": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Deletes every vote and zeroes every impression counter",
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Reset votes",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ResetResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        },
        "/admin/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Votes, impressions, win rate and click-through rate per model, ordered by votes",
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Aggregate model statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.AggregateStats"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        },
        "/prompts/random": {
            "get": {
                "description": "Picks a prompt uniformly at random and reserves impressions for its least-shown candidates",
                "produces": ["application/json"],
                "tags": ["arena"],
                "summary": "Serve a random prompt",
                "parameters": [
                    {"type": "string", "description": "Locale of the prompt text", "name": "locale", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Allocation"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        },
        "/prompts/{id}/candidates": {
            "get": {
                "description": "Reserves impressions for the least-shown candidates of one prompt",
                "produces": ["application/json"],
                "tags": ["arena"],
                "summary": "Serve candidates for a prompt",
                "parameters": [
                    {"type": "string", "description": "Prompt ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Locale of the prompt text", "name": "locale", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Allocation"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        },
        "/votes": {
            "post": {
                "description": "Records which of the shown models the viewer preferred",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["arena"],
                "summary": "Record a vote",
                "parameters": [
                    {"type": "string", "description": "Replay-safe key", "name": "Idempotency-Key", "in": "header"},
                    {
                        "description": "Vote",
                        "name": "vote",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.CastVoteRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "Duplicate of an earlier vote", "schema": {"$ref": "#/definitions/models.VoteAck"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/models.VoteAck"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/middleware.APIError"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/middleware.APIError"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.CastVoteRequest": {
            "type": "object",
            "properties": {
                "chosen_model": {"type": "string"},
                "prompt_id": {"type": "string"},
                "reservation_token": {"type": "string"},
                "session_id": {"type": "string"},
                "shown_models": {"type": "array", "items": {"type": "string"}}
            }
        },
        "handlers.LoginRequest": {
            "type": "object",
            "required": ["password", "username"],
            "properties": {
                "password": {"type": "string"},
                "username": {"type": "string"}
            }
        },
        "handlers.LoginResponse": {
            "type": "object",
            "properties": {
                "expires_at": {"type": "string"},
                "token": {"type": "string"}
            }
        },
        "handlers.ResetResponse": {
            "type": "object",
            "properties": {
                "images_reset": {"type": "integer"},
                "votes_deleted": {"type": "integer"}
            }
        },
        "middleware.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "details": {"type": "string"},
                "message": {"type": "string"},
                "retry_after_ms": {"type": "integer"}
            }
        },
        "models.AggregateStats": {
            "type": "object",
            "properties": {
                "model_stats": {"type": "array", "items": {"$ref": "#/definitions/models.ModelStats"}},
                "total_impressions": {"type": "integer"},
                "total_votes": {"type": "integer"}
            }
        },
        "models.Allocation": {
            "type": "object",
            "properties": {
                "candidates": {"type": "array", "items": {"$ref": "#/definitions/models.Candidate"}},
                "degraded": {"type": "boolean"},
                "language": {"type": "string"},
                "prompt_id": {"type": "string"},
                "prompt_text": {"type": "string"},
                "reservation_token": {"type": "string"},
                "slug": {"type": "string"}
            }
        },
        "models.Candidate": {
            "type": "object",
            "properties": {
                "image_id": {"type": "string"},
                "image_url": {"type": "string"},
                "model_name": {"type": "string"}
            }
        },
        "models.ModelStats": {
            "type": "object",
            "properties": {
                "ctr": {"type": "number"},
                "impressions": {"type": "integer"},
                "model_name": {"type": "string"},
                "votes": {"type": "integer"},
                "win_rate": {"type": "number"}
            }
        },
        "models.VoteAck": {
            "type": "object",
            "properties": {
                "duplicate": {"type": "boolean"},
                "vote_id": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http"},
	Title:            "Image Arena API",
	Description:      "Fair exposure allocation and vote ledger for the image arena.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
