package soniox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/murmurlabs/murmur/pkg/adapters/stt"
	"github.com/murmurlabs/murmur/pkg/errorsx"
	"github.com/murmurlabs/murmur/pkg/frames"
	"github.com/murmurlabs/murmur/pkg/logging"
	"github.com/murmurlabs/murmur/pkg/transcript"
)

// keepAliveInterval keeps the service from timing out the connection
// during long silences between utterances.
const keepAliveInterval = 15 * time.Second

// Client is one live duplex connection to the transcription service.
// Start dials, sends the configuration handshake and launches the receive
// loop; once the connection dies the handle is cleared so later sends are
// rejected with a typed error instead of hanging or panicking.
type Client struct {
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    *websocket.Conn

	batches chan transcript.Batch
	errs    chan error

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	lastWrite atomic.Int64
}

func New(cfg Config) *Client {
	return &Client{
		cfg:     cfg.withDefaults(),
		logger:  logging.NewComponentLogger(slog.Default(), "soniox_stt"),
		batches: make(chan transcript.Batch, 256),
		errs:    make(chan error, 8),
		done:    make(chan struct{}),
	}
}

func (c *Client) Name() string { return "soniox_streaming" }

func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("dial %s: %w", c.cfg.URL, err), errorsx.ReasonSTTConnect)
	}

	if err := conn.WriteJSON(c.cfg.handshake()); err != nil {
		_ = conn.Close()
		return errorsx.Wrap(fmt.Errorf("send handshake: %w", err), errorsx.ReasonSTTConnect)
	}
	c.markWrite()

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.logger.Info("stt_connected",
		slog.String("stream_id", c.cfg.StreamID),
		slog.String("model", c.cfg.Model),
		slog.String("audio_format", c.cfg.AudioFormat),
		slog.Int("sample_rate", c.cfg.SampleRate))

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.keepAliveLoop()
	return nil
}

// SendAudio transmits one chunk as a binary message. A dead connection
// yields a typed error; the caller decides whether to reconnect.
func (c *Client) SendAudio(frame frames.AudioFrame) error {
	conn := c.current()
	if conn == nil {
		return errorsx.New("connection closed", errorsx.ReasonSTTClosed)
	}
	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, frame.RawPayload())
	c.writeMu.Unlock()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	c.markWrite()
	return nil
}

// EndOfAudio sends the empty binary sentinel. Best effort: the utterance
// can still complete from tokens already in flight, so failures are only
// logged.
func (c *Client) EndOfAudio() error {
	conn := c.current()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, []byte{})
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("stt_end_of_audio_failed",
			slog.String("stream_id", c.cfg.StreamID),
			slog.String("error", err.Error()))
		return nil
	}
	c.markWrite()
	return nil
}

// Alive reports whether the connection is usable for sends.
func (c *Client) Alive() bool {
	return c.current() != nil
}

func (c *Client) Batches() <-chan transcript.Batch { return c.batches }
func (c *Client) Errs() <-chan error               { return c.errs }

// Close cancels the receive loop, closes the channel and waits for the
// loop to finish before closing the output channels. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		conn := c.current()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{})
			c.writeMu.Unlock()
			_ = conn.Close()
		}
		c.clearConn()
		c.wg.Wait()
		close(c.batches)
		close(c.errs)
	})
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.clearConn()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("stt_connection_closed",
					slog.String("stream_id", c.cfg.StreamID),
					slog.String("error", err.Error()))
			}
			return
		}

		var resp Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			// malformed message: skip, keep the connection
			c.logger.Warn("stt_decode_error",
				slog.String("stream_id", c.cfg.StreamID),
				slog.String("reason_code", string(errorsx.ReasonSTTDecode)),
				slog.String("error", err.Error()))
			continue
		}

		if resp.ErrorCode != nil {
			remoteErr := errorsx.New(
				fmt.Sprintf("remote error %d: %s", *resp.ErrorCode, resp.ErrorMessage),
				errorsx.ReasonSTTRemote)
			c.logger.Error("stt_remote_error",
				slog.String("stream_id", c.cfg.StreamID),
				slog.Int("error_code", *resp.ErrorCode),
				slog.String("error_message", resp.ErrorMessage))
			select {
			case c.errs <- remoteErr:
			default:
			}
			// fatal for this connection, not for the session
			_ = conn.Close()
			return
		}

		if resp.Finished {
			c.logger.Debug("stt_stream_finished", slog.String("stream_id", c.cfg.StreamID))
			continue
		}

		if len(resp.Tokens) == 0 {
			continue
		}
		batch := make(transcript.Batch, 0, len(resp.Tokens))
		for _, tok := range resp.Tokens {
			batch = append(batch, transcript.Token{
				Text:          tok.Text,
				IsFinal:       tok.IsFinal,
				Speaker:       tok.Speaker,
				Language:      tok.Language,
				IsTranslation: tok.TranslationStatus == TranslationStatusTranslation,
			})
		}
		// final tokens are delivered exactly once; block rather than drop
		// when the consumer falls behind, bailing out only on close
		select {
		case c.batches <- batch:
		case <-c.done:
			return
		}
	}
}

func (c *Client) keepAliveLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			conn := c.current()
			if conn == nil {
				return
			}
			if time.Since(time.Unix(0, c.lastWrite.Load())) < keepAliveInterval {
				continue
			}
			c.writeMu.Lock()
			err := conn.WriteJSON(newKeepAliveMessage())
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("stt_keepalive_failed",
					slog.String("stream_id", c.cfg.StreamID),
					slog.String("error", err.Error()))
				return
			}
			c.markWrite()
		}
	}
}

func (c *Client) current() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Client) clearConn() {
	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
}

func (c *Client) markWrite() {
	c.lastWrite.Store(time.Now().UnixNano())
}

var _ stt.StreamingSTT = (*Client)(nil)
