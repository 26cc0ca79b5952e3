// Package docs holds the OpenAPI document served under /swagger/.
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
        "/v1/program/initialize": {
            "post": {
                "produces": ["application/json"],
                "tags": ["program"],
                "summary": "Create the program counter",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/http.InitializeResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/v1/polls": {
            "get": {
                "produces": ["application/json"],
                "tags": ["polls"],
                "summary": "List polls",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.ListPollsResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["polls"],
                "summary": "Create a poll",
                "parameters": [
                    {"type": "string", "description": "Poll authority", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "string", "description": "Replay protection key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Poll", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.CreatePollRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/http.PollResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["polls"],
                "summary": "Get a poll with its candidates",
                "parameters": [
                    {"type": "integer", "description": "Poll id", "name": "poll_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.PollResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}/audit": {
            "get": {
                "produces": ["application/json"],
                "tags": ["polls"],
                "summary": "Check a poll's persisted state against the program invariants",
                "parameters": [
                    {"type": "integer", "description": "Poll id", "name": "poll_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.PollAuditResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}/candidates": {
            "get": {
                "produces": ["application/json"],
                "tags": ["candidates"],
                "summary": "Candidates of a poll ranked by votes",
                "parameters": [
                    {"type": "integer", "description": "Poll id", "name": "poll_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.ResultsResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["candidates"],
                "summary": "Add a candidate to a poll",
                "parameters": [
                    {"type": "integer", "description": "Poll id", "name": "poll_id", "in": "path", "required": true},
                    {"type": "string", "description": "Poll authority", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "string", "description": "Replay protection key", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Candidate", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.AddCandidateRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/http.CandidateResponse"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}/registrations": {
            "post": {
                "produces": ["application/json"],
                "tags": ["registrations"],
                "summary": "Register the caller for a poll",
                "parameters": [
                    {"type": "integer", "description": "Poll id", "name": "poll_id", "in": "path", "required": true},
                    {"type": "string", "description": "Voter identity", "name": "X-User-Id", "in": "header", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/http.RegistrationResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}/registrations/{voter}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["registrations"],
                "summary": "Registration state of a voter in a poll",
                "parameters": [
                    {"type": "integer", "description": "Poll id", "name": "poll_id", "in": "path", "required": true},
                    {"type": "string", "description": "Voter identity", "name": "voter", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.RegistrationResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/v1/polls/{poll_id}/votes": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["votes"],
                "summary": "Cast the caller's vote",
                "parameters": [
                    {"type": "integer", "description": "Poll id", "name": "poll_id", "in": "path", "required": true},
                    {"type": "string", "description": "Voter identity", "name": "X-User-Id", "in": "header", "required": true},
                    {"description": "Vote", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/http.CastVoteRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.CastVoteResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/http.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        },
        "/v1/voters/{voter}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["voters"],
                "summary": "Voter with the polls it registered for",
                "parameters": [
                    {"type": "string", "description": "Voter identity", "name": "voter", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/http.VoterResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/http.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "http.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "retryable": {"type": "boolean"}
            }
        },
        "http.InitializeResponse": {
            "type": "object",
            "properties": {
                "count": {"type": "integer"},
                "address": {"type": "string"}
            }
        },
        "http.CreatePollRequest": {
            "type": "object",
            "properties": {
                "description": {"type": "string"},
                "start_time": {"type": "integer"},
                "end_time": {"type": "integer"}
            }
        },
        "http.PollResponse": {
            "type": "object",
            "properties": {
                "poll_id": {"type": "integer"},
                "address": {"type": "string"},
                "description": {"type": "string"},
                "start_time": {"type": "integer"},
                "end_time": {"type": "integer"},
                "candidate_count": {"type": "integer"},
                "authority": {"type": "string"},
                "created_at": {"type": "integer"},
                "open": {"type": "boolean"},
                "started": {"type": "boolean"},
                "ended": {"type": "boolean"},
                "candidates": {"type": "array", "items": {"$ref": "#/definitions/http.CandidateResponse"}},
                "replayed": {"type": "boolean"}
            }
        },
        "http.ListPollsResponse": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"$ref": "#/definitions/http.PollResponse"}}
            }
        },
        "http.AddCandidateRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"}
            }
        },
        "http.CandidateResponse": {
            "type": "object",
            "properties": {
                "poll_id": {"type": "integer"},
                "candidate_id": {"type": "integer"},
                "address": {"type": "string"},
                "name": {"type": "string"},
                "vote_count": {"type": "integer"},
                "replayed": {"type": "boolean"}
            }
        },
        "http.ResultsResponse": {
            "type": "object",
            "properties": {
                "poll_id": {"type": "integer"},
                "total_votes": {"type": "integer"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/http.CandidateResponse"}}
            }
        },
        "http.RegistrationResponse": {
            "type": "object",
            "properties": {
                "poll_id": {"type": "integer"},
                "voter": {"type": "string"},
                "address": {"type": "string"},
                "state": {"type": "string"},
                "has_voted": {"type": "boolean"},
                "voted_for": {"type": "integer"},
                "registered_at": {"type": "integer"},
                "voted_at": {"type": "integer"},
                "voter_created": {"type": "boolean"}
            }
        },
        "http.CastVoteRequest": {
            "type": "object",
            "properties": {
                "candidate_id": {"type": "integer"}
            }
        },
        "http.CastVoteResponse": {
            "type": "object",
            "properties": {
                "registration": {"$ref": "#/definitions/http.RegistrationResponse"},
                "candidate": {"$ref": "#/definitions/http.CandidateResponse"}
            }
        },
        "http.VoterResponse": {
            "type": "object",
            "properties": {
                "identity": {"type": "string"},
                "address": {"type": "string"},
                "first_seen_at": {"type": "integer"},
                "registered_polls": {"type": "array", "items": {"type": "integer"}},
                "voted_polls": {"type": "array", "items": {"type": "integer"}}
            }
        },
        "http.PollAuditResponse": {
            "type": "object",
            "properties": {
                "poll_id": {"type": "integer"},
                "consistent": {"type": "boolean"},
                "violations": {"type": "array", "items": {"type": "string"}}
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
	Title:            "votingdapp API",
	Description:      "Poll, candidate, registration and vote operations of the voting program.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
