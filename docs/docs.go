// Package docs registers the facilitator's OpenAPI document with swag so
// the server can serve it at /swagger/. The template is maintained by
// hand alongside the annotations in pkg/api.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        },
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/sessions": {
            "get": {
                "tags": ["Sessions"],
                "summary": "List sessions",
                "parameters": [
                    {"type": "string", "name": "client", "in": "query"},
                    {"type": "string", "name": "agent", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Sessions"],
                "summary": "Create a bounded spending session",
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request"}
                }
            }
        },
        "/sessions/{id}": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Get a session",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/sessions/{id}/pause": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Pause an active session",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/sessions/{id}/resume": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Resume a paused session",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/sessions/{id}/close": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Close a session and report the refund amount",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/sessions/{id}/request": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Admit a spend request against the session budget",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/sessions/{id}/settle": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Settle previously admitted spend to the agent",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/sessions/policies": {
            "get": {
                "tags": ["Policies"],
                "summary": "List spending policies",
                "parameters": [{"type": "string", "name": "owner", "in": "query"}],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "tags": ["Policies"],
                "summary": "Create an immutable spending policy",
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request"}
                }
            }
        },
        "/sessions/policies/{id}": {
            "get": {
                "tags": ["Policies"],
                "summary": "Get a policy",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/sessions/policies/{id}/create-session": {
            "post": {
                "tags": ["Policies"],
                "summary": "Create a session bounded by the policy",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request"}
                }
            }
        },
        "/escrows/multisig": {
            "post": {
                "tags": ["Escrows"],
                "summary": "Create a multi-signer escrow",
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/escrows/multisig/{job_hash}": {
            "get": {
                "tags": ["Escrows"],
                "summary": "Get an escrow",
                "parameters": [{"type": "string", "name": "job_hash", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/escrows/multisig/{job_hash}/approve": {
            "post": {
                "tags": ["Escrows"],
                "summary": "Record one signer's approval",
                "parameters": [{"type": "string", "name": "job_hash", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/escrows/multisig/{job_hash}/refund": {
            "post": {
                "tags": ["Escrows"],
                "summary": "Refund a locked escrow to its owner",
                "parameters": [{"type": "string", "name": "job_hash", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/escrows/multisig/pending/{address}": {
            "get": {
                "tags": ["Escrows"],
                "summary": "List locked escrows awaiting the address's approval",
                "parameters": [{"type": "string", "name": "address", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/audit/events": {
            "get": {
                "tags": ["Audit"],
                "summary": "List audit events",
                "security": [{"ApiKeyAuth": []}, {"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK"},
                    "403": {"description": "Forbidden"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Facilitator API",
	Description:      "Bounded-spending authorization service: sessions, policies, and multi-signer escrows.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
