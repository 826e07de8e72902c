package api

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/labstack/echo/v4"
	middleware "github.com/oapi-codegen/echo-middleware"
)

//go:embed openapi.yaml
var openapiSpec []byte

// LoadSpec parses and validates the embedded OpenAPI document
// describing Lyre's JSON API.
func LoadSpec() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to load OpenAPI spec: %w", err)
	}

	if err := spec.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("OpenAPI spec is invalid: %w", err)
	}

	return spec, nil
}

// newSpecValidatorMiddleware returns a middleware which validates incoming
// requests against the embedded OpenAPI spec. Routes which are not
// documented by the spec (the index page, file downloads and the
// websocket) are skipped.
func newSpecValidatorMiddleware() echo.MiddlewareFunc {
	spec, err := LoadSpec()
	if err != nil {
		panic(err.Error())
	}

	// Clear out the servers array in the spec, this skips validating
	// that server names match. We don't know how this thing will be run.
	spec.Servers = nil

	documented := documentedRoutes(spec)
	return middleware.OapiRequestValidatorWithOptions(spec, &middleware.Options{
		// Request bodies are decoded as JSON by their handlers regardless
		// of the Content-Type the client sent.
		Options: openapi3filter.Options{ExcludeRequestBody: true},
		Skipper: func(ec echo.Context) bool {
			_, ok := documented[ec.Request().Method+" "+ec.Path()]
			return !ok
		},
		ErrorHandler: func(_ echo.Context, err *echo.HTTPError) error {
			// The full validation failure is kept as the internal error
			// (and logged), the client only sees the status text.
			if err.Internal == nil {
				err.Internal = fmt.Errorf("%v", err.Message)
			}
			err.Message = http.StatusText(err.Code)
			return err
		},
	})
}

// documentedRoutes returns the set of "METHOD /echo/:path" strings
// for every operation in the spec provided.
func documentedRoutes(spec *openapi3.T) map[string]struct{} {
	routes := make(map[string]struct{})
	for path, item := range spec.Paths {
		echoPath := toEchoPath(path)
		for method := range item.Operations() {
			routes[strings.ToUpper(method)+" "+echoPath] = struct{}{}
		}
	}

	return routes
}

// toEchoPath converts an OpenAPI templated path (/tasks/{task_id}) to
// the equivalent echo route path (/tasks/:task_id).
func toEchoPath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			segments[i] = ":" + strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
		}
	}

	return strings.Join(segments, "/")
}
