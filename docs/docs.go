// Package docs holds the OpenAPI document served under /swagger. Regenerate
// with `swag init -g cmd/eventbook/main.go` after changing handler annotations.
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
        "/events": {
            "get": {
                "tags": ["events"],
                "summary": "List events",
                "parameters": [
                    {"type": "integer", "description": "page size (default 20, max 100)", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpgin.SuccessResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["events"],
                "summary": "Create event",
                "parameters": [
                    {"description": "event", "name": "req", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpgin.EventRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httpgin.SuccessResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/events/{id}": {
            "get": {
                "tags": ["events"],
                "summary": "Get event",
                "parameters": [
                    {"type": "integer", "description": "Event ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpgin.SuccessResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "tags": ["events"],
                "summary": "Update event",
                "parameters": [
                    {"type": "integer", "description": "Event ID", "name": "id", "in": "path", "required": true},
                    {"description": "event", "name": "req", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpgin.EventRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpgin.SuccessResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "409": {"description": "capacity below booked", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["events"],
                "summary": "Delete event",
                "parameters": [
                    {"type": "integer", "description": "Event ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/events/{id}/availability": {
            "get": {
                "description": "Advisory snapshot; bookings re-check capacity under lock.",
                "tags": ["events"],
                "summary": "Get remaining capacity",
                "parameters": [
                    {"type": "integer", "description": "Event ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpgin.SuccessResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/checkout/sessions": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Prices the tickets on the server and returns the hosted payment URL. No booking is created.",
                "tags": ["checkout"],
                "summary": "Open checkout session",
                "parameters": [
                    {"description": "what to buy", "name": "req", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpgin.OpenSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httpgin.SuccessResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "409": {"description": "capacity exceeded / event closed", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/bookings": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["bookings"],
                "summary": "List own bookings",
                "parameters": [
                    {"type": "integer", "description": "page size (default 20, max 100)", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpgin.SuccessResponse"}}
                }
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Materializes the booking of a paid checkout session. Repeating the call with the same session_id returns the same booking with 200.",
                "tags": ["bookings"],
                "summary": "Confirm booking",
                "parameters": [
                    {"type": "string", "description": "client retry key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "booking", "name": "req", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httpgin.ConfirmBookingRequest"}}
                ],
                "responses": {
                    "200": {"description": "replay", "schema": {"$ref": "#/definitions/httpgin.SuccessResponse"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httpgin.SuccessResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "402": {"description": "Payment Required", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        },
        "/bookings/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["bookings"],
                "summary": "Get booking",
                "parameters": [
                    {"type": "string", "description": "Booking ID (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httpgin.SuccessResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["bookings"],
                "summary": "Cancel booking",
                "parameters": [
                    {"type": "string", "description": "Booking ID (uuid)", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpgin.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "httpgin.SuccessResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "data": {}
            }
        },
        "httpgin.ErrorResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "kind": {"type": "string"},
                "message": {"type": "string"},
                "details": {}
            }
        },
        "httpgin.EventRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "location": {"type": "string"},
                "starts_at": {"type": "string", "format": "date-time"},
                "ticket_price": {"type": "number"},
                "capacity": {"type": "integer"}
            }
        },
        "httpgin.OpenSessionRequest": {
            "type": "object",
            "properties": {
                "event_id": {"type": "integer"},
                "quantity": {"type": "integer"},
                "attendee_name": {"type": "string"}
            }
        },
        "httpgin.ConfirmBookingRequest": {
            "type": "object",
            "properties": {
                "event_id": {"type": "integer"},
                "attendee_name": {"type": "string"},
                "quantity": {"type": "integer"},
                "booking_amount": {"type": "number"},
                "session_id": {"type": "string"}
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
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Eventbook API",
	Description:      "Event listings, checkout sessions and ticket bookings.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
