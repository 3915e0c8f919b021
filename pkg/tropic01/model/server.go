package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// Serve answers model server connections on ln until ctx is cancelled.
// Every connection drives the same chip; each message is handled to
// completion before the next is read.
//
// Returns:
//   - nil after ctx is cancelled and all connections have closed
//   - the accept error if the listener fails for another reason
func Serve(ctx context.Context, ln net.Listener, chip *Chip) error {
	g, ctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			slog.Info("model client connected", "remote", conn.RemoteAddr().String())
			g.Go(func() error {
				serveConn(ctx, conn, chip)
				return nil
			})
		}
	})
	return g.Wait()
}

func serveConn(ctx context.Context, conn net.Conn, chip *Chip) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		tag, payload, err := tropic01.ReadTCPMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				slog.Warn("model client read failed", "remote", conn.RemoteAddr().String(), "error", err)
			} else {
				slog.Info("model client disconnected", "remote", conn.RemoteAddr().String())
			}
			return
		}
		rtag, resp := dispatch(chip, tag, payload)
		if err := tropic01.WriteTCPMessage(conn, rtag, resp); err != nil {
			slog.Warn("model client write failed", "remote", conn.RemoteAddr().String(), "error", err)
			return
		}
	}
}

// dispatch runs one message and returns the reply tag and payload.
func dispatch(chip *Chip, tag byte, payload []byte) (byte, []byte) {
	var err error
	var resp []byte
	switch tag {
	case tropic01.TagCSNLow:
		err = chip.CSNLow()
	case tropic01.TagCSNHigh:
		err = chip.CSNHigh()
	case tropic01.TagSPISend:
		resp = append([]byte(nil), payload...)
		err = chip.Transfer(resp, 0)
	case tropic01.TagPowerOn:
		chip.PowerOn()
	case tropic01.TagPowerOff:
		chip.PowerOff()
	case tropic01.TagWait:
		if len(payload) != 4 {
			err = fmt.Errorf("wait payload of %d bytes", len(payload))
		}
	case tropic01.TagResetTarget:
		chip.Reset()
	default:
		slog.Debug("model message tag unknown", "tag", fmt.Sprintf("0x%02X", tag))
		return tropic01.TagInvalid, nil
	}
	if err != nil {
		slog.Debug("model message failed", "tag", fmt.Sprintf("0x%02X", tag), "error", err)
		return tropic01.TagUnsupported, nil
	}
	return tag, resp
}
