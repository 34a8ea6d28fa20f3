package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/matst80/woof/pkg/common"
	"github.com/matst80/woof/pkg/conversion"
	"github.com/matst80/woof/pkg/series"
	"github.com/matst80/woof/pkg/types"
)

var ErrUnknownWoof = errors.New("unknown woof")

func (ws *WebServer) Woofs(w http.ResponseWriter, r *http.Request) (any, error) {
	defaultHeaders(w, r, "10")
	return ws.Registry.Woofs(), nil
}

func (ws *WebServer) Query(w http.ResponseWriter, r *http.Request) (any, error) {
	req, err := QueryRequestFromValues(r.URL.Query(), ws.now())
	if err != nil {
		return nil, common.WithStatus(http.StatusBadRequest, err)
	}
	woof, ok := ws.Registry.Woof(types.SeriesId(req.WoofId))
	if !ok {
		return nil, statusFor(fmt.Errorf("%w: %s", ErrUnknownWoof, req.WoofId))
	}
	points, err := ws.queries.Handle(r.Context(), req.CacheKey(woof), func() ([]series.Point, error) {
		return ws.Series.Query(req.Query(woof))
	})
	if err != nil {
		return nil, statusFor(err)
	}
	publicHeaders(w, r, "30")
	return points, nil
}

func (ws *WebServer) Conversions(w http.ResponseWriter, r *http.Request) (any, error) {
	publicHeaders(w, r, "3600")
	return conversion.All(), nil
}
