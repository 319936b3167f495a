package borderd

import (
	"net/http"

	"golang.org/x/xerrors"

	"github.com/borderwatch/borderwatch/borderd/channels"
	"github.com/borderwatch/borderwatch/borderd/httpapi"
)

type UpdateChannelRequest struct {
	Match   ChannelKeys     `json:"match"`
	Channel channels.Config `json:"channel"`
}

type ChannelKeys struct {
	ChannelRef string        `json:"channel_ref" validate:"required"`
	Kind       channels.Kind `json:"notification_type" validate:"required"`
}

type DeleteChannelsResponse struct {
	Deleted int64 `json:"deleted"`
}

func channelFilter(rw http.ResponseWriter, r *http.Request) (channels.Filter, bool) {
	p := httpapi.NewQueryParamParser()
	vals := r.URL.Query()
	f := channels.Filter{
		ChannelRef: p.String(vals, "", "channel_ref"),
		Kind: httpapi.ParseCustom(p, vals, channels.Kind(""), "notification_type", func(v string) (channels.Kind, error) {
			k := channels.Kind(v)
			if !k.Valid() {
				return "", xerrors.Errorf("unknown notification type %q", v)
			}
			return k, nil
		}),
	}
	if len(p.Errors) > 0 {
		httpapi.Write(rw, http.StatusBadRequest, httpapi.Response{
			Message: "Invalid query parameters.",
			Errors:  p.Errors,
		})
		return channels.Filter{}, false
	}
	return f, true
}

func (api *API) listChannels(rw http.ResponseWriter, r *http.Request) {
	f, ok := channelFilter(rw, r)
	if !ok {
		return
	}
	configs, err := api.Channels.List(r.Context(), f)
	if err != nil {
		httpapi.InternalServerError(rw, err)
		return
	}
	httpapi.Write(rw, http.StatusOK, configs)
}

func (api *API) postChannel(rw http.ResponseWriter, r *http.Request) {
	var req channels.Config
	if !httpapi.Read(rw, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		httpapi.Write(rw, http.StatusBadRequest, httpapi.Response{Message: "Invalid channel.", Detail: err.Error()})
		return
	}
	err := api.Channels.Add(r.Context(), req)
	if xerrors.Is(err, channels.ErrExists) {
		httpapi.Write(rw, http.StatusConflict, httpapi.Response{Message: "Channel already exists.", Detail: err.Error()})
		return
	}
	if err != nil {
		httpapi.InternalServerError(rw, err)
		return
	}
	httpapi.Write(rw, http.StatusCreated, req)
}

func (api *API) putChannel(rw http.ResponseWriter, r *http.Request) {
	var req UpdateChannelRequest
	if !httpapi.Read(rw, r, &req) {
		return
	}
	if err := req.Channel.Validate(); err != nil {
		httpapi.Write(rw, http.StatusBadRequest, httpapi.Response{Message: "Invalid channel.", Detail: err.Error()})
		return
	}
	err := api.Channels.Update(r.Context(), channels.MatchKeys{
		ChannelRef: req.Match.ChannelRef,
		Kind:       req.Match.Kind,
	}, req.Channel)
	switch {
	case xerrors.Is(err, channels.ErrNotFound):
		httpapi.ResourceNotFound(rw)
		return
	case xerrors.Is(err, channels.ErrExists):
		httpapi.Write(rw, http.StatusConflict, httpapi.Response{Message: "Channel already exists.", Detail: err.Error()})
		return
	case err != nil:
		httpapi.InternalServerError(rw, err)
		return
	}
	httpapi.Write(rw, http.StatusOK, req.Channel)
}

func (api *API) deleteChannels(rw http.ResponseWriter, r *http.Request) {
	f, ok := channelFilter(rw, r)
	if !ok {
		return
	}
	n, err := api.Channels.Delete(r.Context(), f)
	if err != nil {
		httpapi.InternalServerError(rw, err)
		return
	}
	httpapi.Write(rw, http.StatusOK, DeleteChannelsResponse{Deleted: n})
}
