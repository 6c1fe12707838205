// Package docs holds the OpenAPI description served under /swagger.
// Regenerate with: swag init -g main.go -d cmd/management-service,internal/management -o cmd/management-service/docs
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
        "/evaluate": {
            "post": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["policies"], "summary": "Evaluate a declaration against the active policy pack", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
        },
        "/screenings": {
            "post": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["screening"], "summary": "Screen a declaration and open a workflow if required", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "503": {"description": "Service Unavailable"}}}
        },
        "/policy-pack": {
            "get": {"produces": ["application/json"], "tags": ["policies"], "summary": "Get the active policy pack", "responses": {"200": {"description": "OK"}}},
            "put": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["policies"], "summary": "Replace the policy pack", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
        },
        "/policy-pack/versions": {
            "get": {"produces": ["application/json"], "tags": ["policies"], "summary": "List policy pack versions", "responses": {"200": {"description": "OK"}}}
        },
        "/policy-pack/rules": {
            "post": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["policies"], "summary": "Add a rule", "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}
        },
        "/policy-pack/rules/{id}": {
            "delete": {"produces": ["application/json"], "tags": ["policies"], "summary": "Remove a rule", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/policy-pack/rules/{id}/enable": {
            "post": {"produces": ["application/json"], "tags": ["policies"], "summary": "Enable a rule", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/policy-pack/rules/{id}/disable": {
            "post": {"produces": ["application/json"], "tags": ["policies"], "summary": "Disable a rule", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/workflows": {
            "get": {"produces": ["application/json"], "tags": ["workflows"], "summary": "List workflows", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}},
            "post": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["workflows"], "summary": "Create a HOLD or STOP workflow", "responses": {"201": {"description": "Created"}, "400": {"description": "Bad Request"}}}
        },
        "/workflows/sweep": {
            "post": {"produces": ["application/json"], "tags": ["workflows"], "summary": "Run the SLA sweep once", "responses": {"200": {"description": "OK"}}}
        },
        "/workflows/{id}": {
            "get": {"produces": ["application/json"], "tags": ["workflows"], "summary": "Get a workflow", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/workflows/{id}/actions": {
            "get": {"produces": ["application/json"], "tags": ["workflows"], "summary": "Workflow audit history", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/workflows/{id}/release": {
            "post": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["workflows"], "summary": "Release a workflow", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}}
        },
        "/workflows/{id}/escalate": {
            "post": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["workflows"], "summary": "Escalate a workflow", "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}}
        },
        "/workflows/{id}/review": {
            "post": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["workflows"], "summary": "Record a review outcome", "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}}
        },
        "/declarations/{id}/workflows": {
            "get": {"produces": ["application/json"], "tags": ["workflows"], "summary": "Workflows opened for a declaration", "responses": {"200": {"description": "OK"}}}
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
	Title:            "revguard Management API",
	Description:      "Policy evaluation, policy pack administration and HOLD/STOP workflow management for customs declarations",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
