// Package conn implements the per-connection lifecycle described for the
// registration protocol: read loop, timeout, frame decode, validate,
// dispatch to the registration processor, respond, and record statistics.
package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"prismd/internal/logging"
	"prismd/internal/registration"
	"prismd/internal/validate"
	"prismd/internal/wire"
)

// Processor is the subset of registration.Processor the handler depends on.
type Processor interface {
	Process(ctx context.Context, hostname, sourceIP, authToken string) (registration.Result, error)
}

// StatsRecorder is the subset of stats.Stats the handler depends on.
type StatsRecorder interface {
	ConnectionOpened(clientIP string)
	ConnectionClosed(clientIP string)
	MessageReceived()
	MessageSent()
	ErrorOccurred(kind, message string)
	MessageProcessed(d time.Duration)
}

// Config controls read sizing, timeouts, and frame limits for a Handler.
type Config struct {
	ReadChunkSize     int
	ConnectionTimeout time.Duration
	MaxMessageSize    int
	MaxBufferSize     int
}

// DefaultConfig returns the handler defaults named for server.connection_timeout.
func DefaultConfig() Config {
	return Config{
		ReadChunkSize:     4096,
		ConnectionTimeout: 30 * time.Second,
		MaxMessageSize:    wire.DefaultMaxMessageSize,
		MaxBufferSize:     wire.DefaultMaxBufferSize,
	}
}

// Handler drives a single accepted connection until it closes.
type Handler struct {
	conn      net.Conn
	decoder   *wire.Decoder
	validator *validate.Validator
	processor Processor
	stats     StatsRecorder
	logger    logging.Logger
	cfg       Config
}

// New builds a Handler for an already-accepted connection.
func New(c net.Conn, v *validate.Validator, p Processor, stats StatsRecorder, logger logging.Logger, cfg Config) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{
		conn:      c,
		decoder:   wire.NewDecoder(cfg.MaxMessageSize, cfg.MaxBufferSize),
		validator: v,
		processor: p,
		stats:     stats,
		logger:    logger,
		cfg:       cfg,
	}
}

// Handle runs the read/decode/dispatch/respond loop until the peer closes
// the connection, a frame-fatal error occurs, or ctx is done. It always
// closes the underlying connection before returning.
func (h *Handler) Handle(ctx context.Context) error {
	ip := clientIP(h.conn)
	h.stats.ConnectionOpened(ip)
	defer func() {
		h.stats.ConnectionClosed(ip)
		h.conn.Close()
	}()

	buf := make([]byte, h.cfg.ReadChunkSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := h.conn.SetReadDeadline(time.Now().Add(h.cfg.ConnectionTimeout)); err != nil {
			return fmt.Errorf("conn: set read deadline: %w", err)
		}

		n, err := h.conn.Read(buf)
		if n > 0 {
			msgs, decErr := h.decoder.Feed(buf[:n])
			for _, raw := range msgs {
				h.stats.MessageReceived()
				start := time.Now()
				resp := h.processOne(ctx, raw, ip)
				h.stats.MessageProcessed(time.Since(start))
				if werr := h.writeResponse(resp); werr != nil {
					return werr
				}
			}
			if decErr != nil {
				h.handleFrameError(decErr)
				return nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				h.stats.ErrorOccurred("timeout", err.Error())
				h.writeResponse(wire.ErrorResponse("connection timeout"))
				return nil
			}
			return err
		}
	}
}

// processOne parses, validates, and registers a single frame payload,
// producing the response to write back. Every branch here recovers: the
// connection survives a per-message error (only frame-level errors, caught
// by the caller, tear the connection down).
func (h *Handler) processOne(ctx context.Context, raw json.RawMessage, clientIP string) wire.ResponseMessage {
	msg, err := validate.ParseRaw(raw)
	if err != nil {
		h.stats.ErrorOccurred("validation_error", err.Error())
		h.logger.Warn("message rejected", logging.F("error", err.Error()), logging.F("client_ip", clientIP))
		return wire.ErrorResponse(err.Error())
	}

	hostname, err := h.validator.ValidateRegistration(msg)
	if err != nil {
		h.stats.ErrorOccurred("validation_error", err.Error())
		h.logger.Warn("message rejected", logging.F("error", err.Error()), logging.F("client_ip", clientIP))
		return wire.ErrorResponse(err.Error())
	}

	result, err := h.processor.Process(ctx, hostname, clientIP, msg.AuthToken)
	if err != nil {
		h.stats.ErrorOccurred("store_error", err.Error())
		h.logger.Error("registration failed", err, logging.F("hostname", hostname), logging.F("client_ip", clientIP))
		return wire.ErrorResponse("registration failed")
	}

	return wire.SuccessResponse(fmt.Sprintf("%s: %s", result.Outcome, result.Hostname))
}

// handleFrameError classifies a frame-fatal decode error, writes a single
// error response, records it, and logs. The caller tears the connection
// down immediately after — the stream position cannot be trusted further.
func (h *Handler) handleFrameError(err error) {
	kind := "frame_error"
	userMsg := "malformed frame"
	switch {
	case errors.Is(err, wire.ErrFrameTooLarge):
		kind, userMsg = "frame_too_large", "frame exceeds maximum message size"
	case errors.Is(err, wire.ErrBufferOverflow):
		kind, userMsg = "buffer_overflow", "receive buffer exceeded maximum size"
	default:
		var decErr *wire.ErrDecodeError
		if errors.As(err, &decErr) {
			kind, userMsg = "decode_error", "malformed message"
		}
	}

	h.stats.ErrorOccurred(kind, err.Error())
	h.logger.Warn("closing connection after frame error", logging.F("kind", kind), logging.F("error", err.Error()))
	h.writeResponse(wire.ErrorResponse(userMsg))
}

func (h *Handler) writeResponse(resp wire.ResponseMessage) error {
	frame, err := wire.Encode(resp, h.cfg.MaxMessageSize)
	if err != nil {
		return fmt.Errorf("conn: encode response: %w", err)
	}
	if _, err := h.conn.Write(frame); err != nil {
		return fmt.Errorf("conn: write response: %w", err)
	}
	h.stats.MessageSent()
	return nil
}

func clientIP(c net.Conn) string {
	addr := c.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
