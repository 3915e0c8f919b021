package tropic01

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// request sends one L2 request and requires the response status to be one
// of want.
func (d *Device) request(req Request, want ...Status) (*Response, error) {
	frame, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if err := d.link.Write(frame); err != nil {
		return nil, err
	}
	d.cfg.metrics.ObserveFrame("tx", req.ID)
	slog.Debug("l2 request", "req", RequestName(req.ID), "len", len(req.Data))

	resp, err := d.receive(frame)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", RequestName(req.ID), err)
	}
	if len(want) > 0 && !slices.Contains(want, resp.Status) {
		return resp, &StatusError{Request: req.ID, Status: resp.Status}
	}
	return resp, nil
}

// receive reads one L2 response. A frame that fails its CRC is asked for
// again with RESEND; a CRC_ERR status makes us retransmit sent (when set).
// Both recoveries share the max_resends budget.
func (d *Device) receive(sent []byte) (*Response, error) {
	for attempt := 0; ; attempt++ {
		raw, err := d.link.Read()
		if err != nil {
			return nil, err
		}
		resp, err := DecodeResponse(raw)
		switch {
		case errors.Is(err, ErrFrameCorrupt):
			if attempt >= d.cfg.maxResends {
				return nil, err
			}
			slog.Warn("l2 response corrupt, requesting resend", "attempt", attempt+1, "err", err)
			d.cfg.metrics.ObserveRetry("resend")
			if err := d.writeRequest(Request{ID: ReqResend}); err != nil {
				return nil, err
			}
			continue
		case err != nil:
			return nil, err
		}
		d.cfg.metrics.ObserveFrame("rx", responseLabel(sent))

		if resp.Status == StatusCRCErr && sent != nil {
			if attempt >= d.cfg.maxResends {
				return resp, &StatusError{Request: sent[0], Status: resp.Status}
			}
			slog.Warn("chip reported crc error, retransmitting", "attempt", attempt+1, "req", RequestName(sent[0]))
			d.cfg.metrics.ObserveRetry("retransmit")
			if err := d.link.Write(sent); err != nil {
				return nil, err
			}
			continue
		}
		return resp, nil
	}
}

func (d *Device) writeRequest(req Request) error {
	frame, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := d.link.Write(frame); err != nil {
		return err
	}
	d.cfg.metrics.ObserveFrame("tx", req.ID)
	return nil
}

func responseLabel(sent []byte) byte {
	if len(sent) == 0 {
		return ReqEncryptedCmd
	}
	return sent[0]
}
