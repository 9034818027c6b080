// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtnlink/pkg/link"
	"github.com/dtn7/dtnlink/pkg/node"
)

// linkInfo is the JSON representation of a Link.
type linkInfo struct {
	Id        string `json:"id"`
	Peer      string `json:"peer"`
	Status    string `json:"status"`
	Initiator bool   `json:"initiator"`
	Method    string `json:"method"`

	DatagramsIn  uint64 `json:"datagrams_in"`
	DatagramsOut uint64 `json:"datagrams_out"`
	Dropped      uint64 `json:"dropped"`
	BytesIn      uint64 `json:"bytes_in"`
	BytesOut     uint64 `json:"bytes_out"`
	Resends      uint64 `json:"resends"`
	SendCap      uint64 `json:"send_cap"`

	Channels []channelInfo `json:"channels"`
}

// channelInfo is the JSON representation of a Channel.
type channelInfo struct {
	Id             uint64 `json:"id"`
	Protocol       string `json:"protocol"`
	BytesIn        uint64 `json:"bytes_in"`
	BytesOut       uint64 `json:"bytes_out"`
	NextSendId     uint64 `json:"next_send_id"`
	Delivered      uint64 `json:"delivered"`
	Unacknowledged int    `json:"unacknowledged"`
	Buffered       int    `json:"buffered"`
}

// errorResponse is returned for failed requests.
type errorResponse struct {
	Error string `json:"error"`
}

func newLinkInfo(l *link.Link) linkInfo {
	stats := l.Stats()

	info := linkInfo{
		Id:           l.Id().String(),
		Peer:         l.Peer().String(),
		Status:       stats.Status.String(),
		Initiator:    stats.Initiator,
		Method:       stats.Method,
		DatagramsIn:  stats.DatagramsIn,
		DatagramsOut: stats.DatagramsOut,
		Dropped:      stats.Dropped,
		BytesIn:      stats.BytesIn,
		BytesOut:     stats.BytesOut,
		Resends:      stats.Resends,
		SendCap:      stats.SendCap,
		Channels:     make([]channelInfo, 0, len(stats.Channels)),
	}

	for _, cs := range stats.Channels {
		info.Channels = append(info.Channels, channelInfo{
			Id:             cs.Id,
			Protocol:       cs.Protocol,
			BytesIn:        cs.BytesIn,
			BytesOut:       cs.BytesOut,
			NextSendId:     cs.NextSendId,
			Delivered:      cs.Delivered,
			Unacknowledged: cs.Unacknowledged,
			Buffered:       cs.Buffered,
		})
	}

	return info
}

// api is the status REST API of a Manager's Links.
type api struct {
	manager *node.Manager
	router  *mux.Router
}

// newApi registers the API's routes on the router.
func newApi(manager *node.Manager, router *mux.Router) (a *api) {
	a = &api{
		manager: manager,
		router:  router,
	}

	a.router.HandleFunc("/links", a.handleLinks).Methods(http.MethodGet)
	a.router.HandleFunc("/links/{id}", a.handleLink).Methods(http.MethodGet)
	a.router.HandleFunc("/links/{id}/disconnect", a.handleDisconnect).Methods(http.MethodPost)
	a.router.HandleFunc("/links/{id}/kill", a.handleKill).Methods(http.MethodPost)

	return a
}

func (a *api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *api) writeJson(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write REST response")
	}
}

// lookup the Link of the request's id, answering with an error if unknown.
func (a *api) lookup(w http.ResponseWriter, r *http.Request) (*link.Link, bool) {
	id := mux.Vars(r)["id"]

	l, ok := a.manager.Link(id)
	if !ok {
		a.writeJson(w, http.StatusNotFound, errorResponse{Error: "unknown link " + id})
	}
	return l, ok
}

// handleLinks processes /links GET requests.
func (a *api) handleLinks(w http.ResponseWriter, _ *http.Request) {
	links := a.manager.Links()

	infos := make([]linkInfo, 0, len(links))
	for _, l := range links {
		infos = append(infos, newLinkInfo(l))
	}

	a.writeJson(w, http.StatusOK, infos)
}

// handleLink processes /links/{id} GET requests.
func (a *api) handleLink(w http.ResponseWriter, r *http.Request) {
	if l, ok := a.lookup(w, r); ok {
		a.writeJson(w, http.StatusOK, newLinkInfo(l))
	}
}

// handleDisconnect processes /links/{id}/disconnect POST requests.
func (a *api) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	l, ok := a.lookup(w, r)
	if !ok {
		return
	}

	log.WithField("link", l).Info("Disconnecting link on REST request")

	if err := l.Disconnect(); err != nil {
		a.writeJson(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	a.writeJson(w, http.StatusAccepted, newLinkInfo(l))
}

// handleKill processes /links/{id}/kill POST requests.
func (a *api) handleKill(w http.ResponseWriter, r *http.Request) {
	l, ok := a.lookup(w, r)
	if !ok {
		return
	}

	log.WithField("link", l).Info("Killing link on REST request")

	l.Kill()
	a.writeJson(w, http.StatusOK, newLinkInfo(l))
}
