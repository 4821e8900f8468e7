package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Dorm Portal API",
        "description": "Maintenance request lifecycle service for the dormitory portal",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and token management"},
        {"name": "Maintenance", "description": "Maintenance request lifecycle"},
        {"name": "Events", "description": "Per-student transition event stream"},
        {"name": "Exports", "description": "Request-history exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "Tokens issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "Tokens rotated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Refresh token expired or revoked"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Get current user",
                "responses": {
                    "200": {"description": "User info", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/maintenance/requests": {
            "get": {
                "tags": ["Maintenance"],
                "summary": "List maintenance requests",
                "parameters": [
                    {"name": "state", "in": "query", "type": "string", "description": "Comma separated states"},
                    {"name": "category", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Maintenance"],
                "summary": "Submit a maintenance request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRequestPayload"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/maintenance/requests/{id}": {
            "get": {
                "tags": ["Maintenance"],
                "summary": "Get maintenance request detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/maintenance/requests/{id}/attachment": {
            "get": {
                "tags": ["Maintenance"],
                "summary": "Get a signed attachment link",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Signed link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No attachment on the request"}
                }
            }
        },
        "/maintenance/requests/{id}/transition": {
            "post": {
                "tags": ["Maintenance"],
                "summary": "Apply a lifecycle transition",
                "description": "Moves a request along the lifecycle graph. The fromState field guards against concurrent changes.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransitionPayload"}}
                ],
                "responses": {
                    "200": {"description": "Transition applied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "State changed since last fetch"},
                    "422": {"description": "Transition is not a legal edge"}
                }
            }
        },
        "/maintenance/requests/{id}/review": {
            "post": {
                "tags": ["Maintenance"],
                "summary": "Review a completed request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReviewPayload"}}
                ],
                "responses": {
                    "200": {"description": "Review attached", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Not completed or already reviewed"}
                }
            }
        },
        "/maintenance/requests/{id}/reschedule": {
            "post": {
                "tags": ["Maintenance"],
                "summary": "Reschedule a request",
                "description": "Supersedes the request with a new PENDING one carrying the new schedule window.",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReschedulePayload"}}
                ],
                "responses": {
                    "201": {"description": "Replacement created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "State changed or terminal"}
                }
            }
        },
        "/maintenance/events": {
            "get": {
                "tags": ["Events"],
                "summary": "Subscribe to transition events",
                "description": "Server-sent event stream of the caller's request transitions. Events are refresh hints; a reconnect joins fresh with no replay.",
                "produces": ["text/event-stream"],
                "responses": {
                    "200": {"description": "Event stream"}
                }
            }
        },
        "/exports": {
            "post": {
                "tags": ["Exports"],
                "summary": "Queue a request-history export",
                "responses": {
                    "202": {"description": "Job queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/{id}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Get export job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/exports/download": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a finished export",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File stream"},
                    "401": {"description": "Invalid or expired token"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "CreateRequestPayload": {
            "type": "object",
            "properties": {
                "category": {"type": "string", "enum": ["CLEANING", "REPAIR", "MAINTENANCE"]},
                "title": {"type": "string"},
                "description": {"type": "string"},
                "scheduleStart": {"type": "string", "format": "date-time"},
                "scheduleEnd": {"type": "string", "format": "date-time"},
                "attachmentRef": {"type": "string"}
            }
        },
        "TransitionPayload": {
            "type": "object",
            "properties": {
                "fromState": {"type": "string"},
                "toState": {"type": "string"},
                "assignedStaff": {"type": "string"},
                "rejectionReason": {"type": "string"}
            }
        },
        "ReviewPayload": {
            "type": "object",
            "properties": {
                "rating": {"type": "integer", "minimum": 1, "maximum": 5},
                "comment": {"type": "string"}
            }
        },
        "ReschedulePayload": {
            "type": "object",
            "properties": {
                "fromState": {"type": "string"},
                "scheduleStart": {"type": "string", "format": "date-time"},
                "scheduleEnd": {"type": "string", "format": "date-time"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
