/*
routes.go - Follow-up URL generation

PURPOSE:
  Implements reserve.Router for notification payloads. The member-facing
  pages live on an external web frontend; this maps the engine's route
  names onto that frontend's URL scheme.
*/
package api

import (
	"net/url"
	"strings"

	"github.com/warp/allocation-engine/reserve"
)

// Routes implements reserve.Router against a frontend base URL.
type Routes struct {
	BaseURL string
}

// URLFor builds an absolute URL for a named route. Unknown routes map to
// the base URL so a notification never carries an empty link.
func (rt *Routes) URLFor(route string, params map[string]string) string {
	base := strings.TrimRight(rt.BaseURL, "/")

	var path string
	switch route {
	case reserve.RouteApplicationCreate:
		path = "/member/applications/create"
	case reserve.RouteInvestmentProfileIndex:
		path = "/investment-profiles"
	default:
		path = "/"
	}

	if len(params) == 0 {
		return base + path
	}

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	return base + path + "?" + query.Encode()
}
