// Package docs holds the OpenAPI description served under /swagger.
// Keep it in sync with the @-annotations on the handlers in pkg/api/handlers.
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
        "/health": {
            "get": {
                "description": "Reports the status of the database and, when configured, redis",
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "Service health",
                "responses": {
                    "200": {"description": "All dependencies up", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "A dependency is down", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        },
        "/webhooks/mightycall": {
            "post": {
                "description": "Authenticated by bearer token or X-Signature (hex HMAC-SHA256 of the body). Every event is archived; entities are stored when exactly one organization owns them.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Webhooks"],
                "summary": "Receive a MightyCall event",
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/webhook.Outcome"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/api/v1/sync/organizations/{id}": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Pulls calls, recordings, reports and SMS for the organization over the given range. Platform admins or admins of the organization only.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Sync"],
                "summary": "Sync one organization",
                "parameters": [
                    {"type": "string", "description": "Organization ID", "name": "id", "in": "path", "required": true},
                    {"description": "Date range, YYYY-MM-DD or RFC3339. Defaults to the last 24 hours.", "name": "body", "in": "body", "schema": {"$ref": "#/definitions/models.SyncRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/callsync.SyncResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "409": {"description": "A sync for this organization is already running", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "502": {"description": "The provider rejected the credentials", "schema": {"$ref": "#/definitions/callsync.SyncResult"}}
                }
            }
        },
        "/api/v1/sync/runs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns the newest sync runs. Non platform admins only see their own organization.",
                "produces": ["application/json"],
                "tags": ["Sync"],
                "summary": "List sync runs",
                "parameters": [
                    {"type": "string", "description": "Organization ID", "name": "org_id", "in": "query"},
                    {"type": "integer", "default": 50, "description": "Maximum rows (1-500)", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/api/v1/metrics/answer-rate": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Share of answered calls for the caller's organization, or every organization with scope=global (platform admins only)",
                "produces": ["application/json"],
                "tags": ["Metrics"],
                "summary": "Answer rate",
                "parameters": [
                    {"type": "string", "description": "Start, YYYY-MM-DD or RFC3339", "name": "from", "in": "query"},
                    {"type": "string", "description": "End, YYYY-MM-DD or RFC3339", "name": "to", "in": "query"},
                    {"type": "string", "description": "IANA time zone for date-only bounds", "name": "tz", "in": "query"},
                    {"type": "string", "description": "org or global", "name": "scope", "in": "query"},
                    {"type": "string", "description": "Organization (platform admins)", "name": "org_id", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/api/v1/metrics/series": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Calls per bucket with zero-filled gaps. Buckets are aligned in tz.",
                "produces": ["application/json"],
                "tags": ["Metrics"],
                "summary": "Call series",
                "parameters": [
                    {"type": "string", "description": "Start, defaults to 30 days ago", "name": "from", "in": "query"},
                    {"type": "string", "description": "End, defaults to now", "name": "to", "in": "query"},
                    {"type": "string", "default": "day", "description": "hour, day, week or month", "name": "bucket", "in": "query"},
                    {"type": "string", "description": "IANA time zone", "name": "tz", "in": "query"},
                    {"type": "string", "description": "org or global", "name": "scope", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/models.ErrorResponse"}}
                }
            }
        },
        "/api/v1/metrics/series.xlsx": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Same data as /metrics/series as an xlsx download",
                "produces": ["application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"],
                "tags": ["Metrics"],
                "summary": "Call series spreadsheet",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "file"}}
                }
            }
        },
        "/api/v1/metrics/queues": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Calls per queue, busiest first. Without from/to it covers all time.",
                "produces": ["application/json"],
                "tags": ["Metrics"],
                "summary": "Queue summary",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}}
                }
            }
        }
    },
    "definitions": {
        "callsync.Counts": {
            "type": "object",
            "properties": {
                "synced": {"type": "integer"},
                "inserted": {"type": "integer"},
                "updated": {"type": "integer"},
                "skipped": {"type": "integer"},
                "failed": {"type": "integer"},
                "error": {"type": "string"}
            }
        },
        "callsync.SyncResult": {
            "type": "object",
            "properties": {
                "org_id": {"type": "string"},
                "from": {"type": "string"},
                "to": {"type": "string"},
                "calls": {"$ref": "#/definitions/callsync.Counts"},
                "recordings": {"$ref": "#/definitions/callsync.Counts"},
                "reports": {"$ref": "#/definitions/callsync.Counts"},
                "sms": {"$ref": "#/definitions/callsync.Counts"},
                "error": {"type": "string"},
                "skipped": {"type": "boolean"}
            }
        },
        "models.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "models.SyncRequest": {
            "type": "object",
            "properties": {
                "from": {"type": "string"},
                "to": {"type": "string"}
            }
        },
        "webhook.Outcome": {
            "type": "object",
            "properties": {
                "event": {"type": "string"},
                "family": {"type": "string"},
                "org_id": {"type": "string"},
                "status": {"type": "string"},
                "written": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "CallOps API",
	Description:      "MightyCall sync and call-center metrics API.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
