package httpapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// QueryParamParser is a helper for parsing all query params and gathering all
// errors in 1 sweep. This means all invalid fields are returned at once,
// rather than only returning the first error
type QueryParamParser struct {
	// Errors is the set of errors to return via the API. If the length
	// of this set is 0, there are no errors!.
	Errors []Error
}

func NewQueryParamParser() *QueryParamParser {
	return &QueryParamParser{
		Errors: []Error{},
	}
}

func (p *QueryParamParser) Int(vals url.Values, def int, queryParam string) int {
	v, err := parseQueryParam(vals, strconv.Atoi, def, queryParam)
	if err != nil {
		p.Errors = append(p.Errors, Error{
			Field:  queryParam,
			Detail: fmt.Sprintf("Query param %q must be a valid integer (%s)", queryParam, err.Error()),
		})
	}
	return v
}

func (p *QueryParamParser) Bool(vals url.Values, def bool, queryParam string) bool {
	v, err := parseQueryParam(vals, strconv.ParseBool, def, queryParam)
	if err != nil {
		p.Errors = append(p.Errors, Error{
			Field:  queryParam,
			Detail: fmt.Sprintf("Query param %q must be a valid boolean", queryParam),
		})
	}
	return v
}

func (*QueryParamParser) String(vals url.Values, def string, queryParam string) string {
	v, _ := parseQueryParam(vals, func(v string) (string, error) {
		return v, nil
	}, def, queryParam)
	return v
}

func ParseCustom[T any](parser *QueryParamParser, vals url.Values, def T, queryParam string, parseFunc func(v string) (T, error)) T {
	v, err := parseQueryParam(vals, parseFunc, def, queryParam)
	if err != nil {
		parser.Errors = append(parser.Errors, Error{
			Field:  queryParam,
			Detail: fmt.Sprintf("Query param %q has invalid value: %s", queryParam, err.Error()),
		})
	}
	return v
}

func parseQueryParam[T any](vals url.Values, parse func(v string) (T, error), def T, queryParam string) (T, error) {
	if !vals.Has(queryParam) || strings.TrimSpace(vals.Get(queryParam)) == "" {
		return def, nil
	}
	str := strings.TrimSpace(vals.Get(queryParam))
	return parse(str)
}
