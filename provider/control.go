package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jclmnop/distributed-iiot-poc/config"
	"github.com/jclmnop/distributed-iiot-poc/errors"
	"github.com/jclmnop/distributed-iiot-poc/natsclient"
)

// Control subjects, relative to the configured prefix.
const (
	SubjectLinkPut  = "link.put"
	SubjectLinkDel  = "link.del"
	SubjectLinkList = "link.list"
)

// controlTimeout bounds one put or delete, including the bus connect.
const controlTimeout = 30 * time.Second

// RequestBus answers requests on a subject.
type RequestBus interface {
	HandleRequests(ctx context.Context, subject string, handler natsclient.RequestHandler) error
}

// LinkRequest is the body of put and delete requests.
type LinkRequest struct {
	ConsumerID string            `json:"consumer_id"`
	Values     map[string]string `json:"values,omitempty"`
}

// LinkReply answers put and delete requests.
type LinkReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// LinkInfo describes one attached link.
type LinkInfo struct {
	ConsumerID string   `json:"consumer_id"`
	Sensors    int      `json:"sensors"`
	Intervals  []uint64 `json:"intervals"`
}

// LinkList answers list requests.
type LinkList struct {
	Links []LinkInfo `json:"links"`
}

// ControlServer lets a host put and delete links over NATS request/reply.
type ControlServer struct {
	bus     RequestBus
	manager *Manager
	prefix  string
	logger  *slog.Logger
}

// NewControlServer creates a ControlServer answering under prefix.
func NewControlServer(bus RequestBus, manager *Manager, prefix string, logger *slog.Logger) *ControlServer {
	if prefix == "" {
		prefix = config.DefaultControlPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlServer{
		bus:     bus,
		manager: manager,
		prefix:  prefix,
		logger:  logger.With("component", "control"),
	}
}

// Subject returns the full subject of a control operation.
func (c *ControlServer) Subject(op string) string {
	return c.prefix + "." + op
}

// Start registers the responders. They stay registered until ctx ends.
func (c *ControlServer) Start(ctx context.Context) error {
	handlers := map[string]natsclient.RequestHandler{
		SubjectLinkPut:  c.handlePut,
		SubjectLinkDel:  c.handleDelete,
		SubjectLinkList: c.handleList,
	}
	for _, op := range []string{SubjectLinkPut, SubjectLinkDel, SubjectLinkList} {
		if err := c.bus.HandleRequests(ctx, c.Subject(op), handlers[op]); err != nil {
			return errors.Wrap(err, "ControlServer", "Start", "register "+c.Subject(op))
		}
	}
	c.logger.Info("Control API listening", "prefix", c.prefix)
	return nil
}

func (c *ControlServer) handlePut(ctx context.Context, data []byte) []byte {
	var req LinkRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return reply(LinkReply{Error: fmt.Sprintf("invalid request: %v", err)})
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), controlTimeout)
	defer cancel()

	link := config.Link{ConsumerID: req.ConsumerID, Values: req.Values}
	if err := c.manager.Attach(ctx, link); err != nil {
		return reply(LinkReply{Error: err.Error()})
	}
	return reply(LinkReply{OK: true})
}

func (c *ControlServer) handleDelete(ctx context.Context, data []byte) []byte {
	var req LinkRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return reply(LinkReply{Error: fmt.Sprintf("invalid request: %v", err)})
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), controlTimeout)
	defer cancel()

	if !c.manager.Detach(ctx, req.ConsumerID) {
		return reply(LinkReply{Error: errors.ErrSessionNotFound.Error()})
	}
	return reply(LinkReply{OK: true})
}

func (c *ControlServer) handleList(_ context.Context, _ []byte) []byte {
	sessions := c.manager.Sessions()
	list := LinkList{Links: make([]LinkInfo, 0, len(sessions))}
	for _, s := range sessions {
		intervals := s.Intervals()
		if intervals == nil {
			intervals = []uint64{}
		}
		list.Links = append(list.Links, LinkInfo{
			ConsumerID: s.ID(),
			Sensors:    s.SensorCount(),
			Intervals:  intervals,
		})
	}
	return reply(list)
}

func reply(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"ok":false,"error":"encode reply"}`)
	}
	return data
}
