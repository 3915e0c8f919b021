package model

import (
	"log/slog"

	"github.com/barnettlynn/tropictools/pkg/tropic01"
)

// handleRequest runs one request frame written by the host. Every request
// except RESEND replaces whatever response was still pending.
func (c *Chip) handleRequest(raw []byte) {
	req, err := tropic01.DecodeRequest(raw)
	if err != nil {
		slog.Debug("model request rejected", "error", err)
		c.queue = nil
		c.respond(tropic01.StatusCRCErr, nil)
		return
	}
	c.metrics.ObserveFrame("rx", req.ID)

	if req.ID == tropic01.ReqResend {
		if c.last == nil {
			c.respond(tropic01.StatusGenErr, nil)
			return
		}
		c.queue = append([][]byte{c.last}, c.queue...)
		return
	}
	if c.rejects > 0 {
		c.rejects--
		c.queue = nil
		c.respond(tropic01.StatusCRCErr, nil)
		return
	}
	c.queue = nil
	if err := tropic01.CheckRequestShape(req.ID, len(req.Data)); err != nil {
		slog.Debug("model request malformed", "req", tropic01.RequestName(req.ID), "error", err)
		c.respond(tropic01.StatusGenErr, nil)
		return
	}
	slog.Debug("model request", "req", tropic01.RequestName(req.ID), "len", len(req.Data), "mode", c.mode.String())

	maintenance := c.mode == tropic01.ModeMaintenance
	switch req.ID {
	case tropic01.ReqGetInfo:
		c.getInfo(req.Data[0], req.Data[1])
	case tropic01.ReqHandshake:
		if maintenance {
			c.respond(tropic01.StatusUnknownReq, nil)
			return
		}
		c.handshake(req.Data)
	case tropic01.ReqEncryptedCmd:
		if maintenance {
			c.respond(tropic01.StatusUnknownReq, nil)
			return
		}
		c.encryptedCmd(req.Data)
	case tropic01.ReqEncryptedSessionAbt:
		c.dropSession("abort request")
		c.respond(tropic01.StatusRequestOK, nil)
	case tropic01.ReqSleep:
		if k := req.Data[0]; k != tropic01.SleepKindSleep && k != tropic01.SleepKindDeepSleep {
			c.respond(tropic01.StatusGenErr, nil)
			return
		}
		c.dropSession("sleep")
		c.respond(tropic01.StatusRequestOK, nil)
	case tropic01.ReqGetLog:
		c.respond(tropic01.StatusRequestOK, c.log[max(0, len(c.log)-tropic01.ChunkSize):])
	case tropic01.ReqStartup:
		c.startup(req.Data[0])
	case tropic01.ReqMutableFwUpdate, tropic01.ReqMutableFwUpdateData, tropic01.ReqMutableFwErase:
		if !maintenance {
			c.respond(tropic01.StatusUnknownReq, nil)
			return
		}
		c.firmwareRequest(req)
	default:
		c.respond(tropic01.StatusUnknownReq, nil)
	}
}

func (c *Chip) getInfo(object, block byte) {
	switch object {
	case tropic01.InfoCertStore:
		off := int(block) * tropic01.InfoBlockSize
		if off >= tropic01.CertStoreMax {
			c.respond(tropic01.StatusGenErr, nil)
			return
		}
		out := make([]byte, tropic01.InfoBlockSize)
		if off < len(c.id.CertStore) {
			copy(out, c.id.CertStore[off:])
		}
		c.respond(tropic01.StatusRequestOK, out)
	case tropic01.InfoChipID:
		c.respond(tropic01.StatusRequestOK, c.id.ChipID.Bytes())
	case tropic01.InfoRISCVFwVersion:
		v := c.appFw
		if c.mode == tropic01.ModeMaintenance {
			v = c.bootFw
		}
		c.respond(tropic01.StatusRequestOK, v.Bytes())
	case tropic01.InfoSPECTFwVersion:
		c.respond(tropic01.StatusRequestOK, c.spectFw.Bytes())
	case tropic01.InfoFwBank:
		b, ok := c.banks[block]
		if c.mode != tropic01.ModeMaintenance || !ok {
			c.respond(tropic01.StatusGenErr, nil)
			return
		}
		c.respond(tropic01.StatusRequestOK, b.header.Bytes())
	default:
		c.respond(tropic01.StatusGenErr, nil)
	}
}

// startup answers first, then reboots: the status byte of the response
// already reflects the new mode.
func (c *Chip) startup(id byte) {
	var mode tropic01.Mode
	switch id {
	case tropic01.StartupReboot:
		mode = tropic01.ModeApplication
	case tropic01.StartupMaintenanceReboot:
		mode = tropic01.ModeMaintenance
	default:
		c.respond(tropic01.StatusGenErr, nil)
		return
	}
	c.dropSession("startup")
	c.l3in = nil
	c.update = nil
	if c.pendingApp != nil && mode == tropic01.ModeApplication {
		c.appFw = *c.pendingApp
		c.pendingApp = nil
		c.logf("running firmware %s", c.appFw)
	}
	c.mode = mode
	c.logf("startup into %s mode", mode)
	c.respond(tropic01.StatusRequestOK, nil)
}
