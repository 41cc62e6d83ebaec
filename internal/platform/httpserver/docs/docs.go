// Package docs registers the OpenAPI document served at /swagger/doc.json.
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
        "/v1/deliberations": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["deliberations"],
                "summary": "Create a deliberation in the submission phase",
                "responses": {
                    "201": {"description": "Created"},
                    "400": {"description": "Bad Request"}
                }
            }
        },
        "/v1/deliberations/{deliberation_id}/ideas": {
            "get": {
                "produces": ["application/json"],
                "tags": ["ideas"],
                "summary": "List a deliberation's ideas",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["ideas"],
                "summary": "Submit an idea",
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/v1/deliberations/{deliberation_id}/open-voting": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["deliberations"],
                "summary": "Close submissions and form the first tier of cells",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/v1/deliberations/{deliberation_id}/challenge-round": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["deliberations"],
                "summary": "Start a rolling-mode challenge round against the champion",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/v1/deliberations/{deliberation_id}/close": {
            "post": {
                "produces": ["application/json"],
                "tags": ["deliberations"],
                "summary": "Terminally close a rolling-mode deliberation",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/v1/deliberations/{deliberation_id}/state": {
            "get": {
                "produces": ["application/json"],
                "tags": ["deliberations"],
                "summary": "Full tier and cell overview",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/v1/cells/{cell_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["cells"],
                "summary": "Participant view of a cell",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            }
        },
        "/v1/cells/{cell_id}/reservations": {
            "post": {
                "produces": ["application/json"],
                "tags": ["votes"],
                "summary": "Reserve a voting seat",
                "responses": {
                    "201": {"description": "Created"},
                    "409": {"description": "Conflict"}
                }
            }
        },
        "/v1/cells/{cell_id}/votes": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["votes"],
                "summary": "Cast or replace a point-allocation ballot",
                "responses": {
                    "200": {"description": "OK"},
                    "403": {"description": "Forbidden"},
                    "410": {"description": "Gone"}
                }
            }
        },
        "/v1/cells/{cell_id}/comments": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["comments"],
                "summary": "Post a comment inside a cell",
                "responses": {
                    "201": {"description": "Created"},
                    "403": {"description": "Forbidden"}
                }
            }
        },
        "/v1/cells/{cell_id}/results": {
            "get": {
                "produces": ["application/json"],
                "tags": ["cells"],
                "summary": "Outcome of a closed cell",
                "responses": {
                    "200": {"description": "OK"},
                    "410": {"description": "Gone"}
                }
            }
        },
        "/v1/comments/{comment_id}/upvote": {
            "post": {
                "produces": ["application/json"],
                "tags": ["comments"],
                "summary": "Upvote a comment and extend its reach",
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Chant Deliberation Engine API",
	Description:      "Tiered cell deliberation: idea intake, point-allocation voting, and champion selection.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
