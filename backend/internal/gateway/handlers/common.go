package handlers

import (
	"net/http"
	"strings"

	"schoolpoints/backend/internal/auth"
	"schoolpoints/backend/internal/gateway/util"
	"schoolpoints/backend/internal/policy"
	"schoolpoints/backend/internal/shared"
)

// actorFrom returns the caller resolved by the auth middleware, nil when
// anonymous
func actorFrom(r *http.Request) *policy.Actor {
	return auth.ActorFromContext(r.Context())
}

func query(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// pageFrom reads paging parameters, writing a 400 on malformed input
func pageFrom(w http.ResponseWriter, r *http.Request) (shared.Page, bool) {
	page, err := util.QueryPage(r)
	if err != nil {
		util.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return shared.Page{}, false
	}
	return page, true
}

// intFrom reads an optional integer query parameter, writing a 400 on
// malformed input
func intFrom(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	v, err := util.QueryInt(r, key, 0)
	if err != nil {
		util.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return 0, false
	}
	return v, true
}
