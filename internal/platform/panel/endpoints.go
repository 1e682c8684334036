package panel

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/fatflowers/tunnelbot/pkg/config"
)

const (
	EndpointCreateUser      = "create_user"
	EndpointUpdateUser      = "update_user"
	EndpointExtendUser      = "extend_expiration"
	EndpointGetDeliveryLink = "get_delivery_link"
	EndpointSyncServers     = "sync_servers"
	EndpointSyncUsers       = "sync_users"
)

var ErrInvalidEndpoint = errors.New("invalid_panel_endpoint")

// DefaultEndpoints are the panel paths used unless overridden in config.
var DefaultEndpoints = map[string]string{
	EndpointCreateUser:      "/api/users",
	EndpointUpdateUser:      "/api/users/{user_id}",
	EndpointExtendUser:      "/api/users/{user_id}/extend",
	EndpointGetDeliveryLink: "/api/users/{user_id}/delivery",
	EndpointSyncServers:     "/api/servers",
	EndpointSyncUsers:       "/api/users",
}

// Endpoints maps an operation name to a path template with {placeholders}.
type Endpoints map[string]string

// BuildEndpoints merges overrides into the defaults and validates the result.
// In strict mode overrides may only replace known endpoints.
func BuildEndpoints(overrides map[string]string, mode config.PanelAPIMode) (Endpoints, error) {
	eps := make(Endpoints, len(DefaultEndpoints)+len(overrides))
	for k, v := range DefaultEndpoints {
		eps[k] = v
	}
	for k, v := range overrides {
		eps[k] = strings.TrimSpace(v)
	}

	invalid := lo.Filter(lo.Keys(eps), func(name string, _ int) bool {
		return !strings.HasPrefix(eps[name], "/")
	})
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, fmt.Errorf("%w: paths must start with /: %v", ErrInvalidEndpoint, invalid)
	}

	if mode == config.PanelAPIModeStrict {
		unknown := lo.Filter(lo.Keys(overrides), func(name string, _ int) bool {
			_, ok := DefaultEndpoints[name]
			return !ok
		})
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return nil, fmt.Errorf("%w: unknown overrides not allowed in strict mode: %v", ErrInvalidEndpoint, unknown)
		}
	}
	return eps, nil
}

// Path renders the named endpoint, escaping placeholder values.
func (e Endpoints) Path(name string, params map[string]string) (string, error) {
	tmpl, ok := e[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown endpoint %s", ErrInvalidEndpoint, name)
	}
	for k, v := range params {
		tmpl = strings.ReplaceAll(tmpl, "{"+k+"}", url.PathEscape(v))
	}
	if strings.ContainsAny(tmpl, "{}") {
		return "", fmt.Errorf("%w: unresolved placeholder in %s", ErrInvalidEndpoint, tmpl)
	}
	return tmpl, nil
}
