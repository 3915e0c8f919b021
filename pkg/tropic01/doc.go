/*
Package tropic01 is a host-side library for the Tropic Square TROPIC01 secure element.

It layers the chip's protocol the same way the chip does:
  - L1: SPI transactions framed by chip select, response polling (Link, Port)
  - L2: CRC-protected request/response frames, RESEND recovery (EncodeRequest, DecodeResponse)
  - Secure channel: Noise_KK1_25519_AESGCM_SHA256 handshake and per-direction counters (Session)
  - L3: AES-GCM envelopes carrying the command catalog (SendCommand and the typed wrappers)
  - Ports: model server over TCP (DialTCP) and the USB dongle (OpenDongle)

A Device owns one Port. Every call is synchronous; the session counters are
guarded by the Session, and a second handshake started while one is running
fails fast with ErrSessionBusy.

# L2 Frames

Request, host to chip (one SPI transaction):

	<ReqID(1)> <Len(1)> <Data(Len)> <CRC16(2) LE>

Response, read with GET_RESPONSE (0xAA) clocked as the first byte:

	<ChipStatus(1)> <Status(1)> <Len(1)> <Data(Len)> <CRC16(2) LE>

	CRC16 poly 0x8005, init 0x0000, covers Status..Data (request: ReqID..Data)
	ChipStatus bit 0 READY, bit 1 ALARM, bit 2 STARTUP (bootloader running)
	Status 0xFF = no response yet, keep polling

Len is at most 252. Longer L3 traffic is split over several frames.

Fail states:

	CRC mismatch on a response  send RESEND (0x10), the chip repeats its last frame
	Status CRC_ERR (0x7C)       the chip saw a corrupt request, retransmit it
	Status UNKNOWN_REQ (0x7E)   request not served in the current mode
	ALARM bit                   ErrChipAlarm, stop talking to the chip
	READY never set             ErrChipBusy after read_max_tries polls

Both recoveries draw on the same max_resends budget per request.

# Operation: HANDSHAKE (0x02)

Purpose: establish the secure channel for one pairing slot.

	Request:  <EHPUB(32)> <PairingSlot(1)>
	Response: <ETPUB(32)> <AuthTag(16)> | REQUEST_OK

Key schedule (HKDF-SHA256 with the chaining key as salt):

	h   = SHA256 chain over protocol name, SHiPUB, STPUB, EHPUB, slot, ETPUB
	ck  = HKDF(name, X25519(EH, ETPUB))
	ck  = HKDF(ck, X25519(SHi, ETPUB))
	ck, kAUTH = HKDF(ck, X25519(EH, STPUB))
	kCMD, kRES = HKDF(ck, empty)
	AuthTag = AES-GCM(kAUTH, iv=0, plaintext=empty, aad=h)

Fail states:

	Status HSK_ERR (0x79)  pairing slot blank or invalidated, or key mismatch on the chip
	Tag mismatch           wrong STPUB or wrong pairing key (HandshakeError step "verify")

# Operation: ENCRYPTED_CMD (0x04)

Purpose: carry one L3 command and its result.

	Envelope: <Size(2) LE> <Ciphertext(Size)> <Tag(16)>
	IV:       <Counter(4) LE> <00 x 8>

The host encrypts with kCMD under its send counter, the chip answers with kRES
under its own. Each envelope chunk is acknowledged with REQUEST_CONT, the last
with REQUEST_OK; the result follows as RESULT_CONT frames and one RESULT_OK.
Counters advance only after a successful exchange; a failed transport attempt
does not burn a nonce.

Fail states:

	Status NO_SESSION (0x7A)  no session on the chip (slept, rebooted, aborted)
	Status TAG_ERR (0x7B)     the chip rejected the command tag; its session is gone
	Result tag mismatch       ErrAuthenticationFailed, the host session is aborted

# L3 Results

	0xC3 OK              0x3C FAIL
	0x01 UNAUTHORIZED    0x02 INVALID_CMD
	0x10 SLOT_NOT_EMPTY  0x11 SLOT_EXPIRED
	0x12 INVALID_KEY     0x13 UPDATE_ERR
	0x14 COUNTER_INVALID 0x15 SLOT_EMPTY
	0x16 SLOT_INVALID    0x17 HARDWARE_FAIL

Results are data: the typed wrappers return them in the response value and
keep error for transport, protocol and crypto failures.

# Operation: GET_INFO (0x01)

	Request:  <Object(1)> <Block(1)>

	0x00 certificate store, 128-byte blocks: <ver=1> <n=4> <len(2) BE x 4> <DER...>
	0x01 CHIP_ID, 128 bytes (silicon revision at offset 28)
	0x02 RISC-V firmware version <build> <patch> <minor> <major>, major bit 7 set by the bootloader
	0x04 SPECT firmware version
	0xB0 firmware bank header, Block = bank id; maintenance mode only

# Maintenance

STARTUP (0xB3) with 0x03 reboots into the bootloader. Firmware update depends
on the silicon revision:

	ABAB: MUTABLE_FW_ERASE <bank>, then MUTABLE_FW_UPDATE_DATA <bank(2)> <offset(2)> <data(<=128)>
	ACAB: MUTABLE_FW_UPDATE <sig(64)> <hash(32)> <type(2)> <pad(1)> <hdrver(1)> <fwver(4)>,
	      then MUTABLE_FW_UPDATE_DATA <next hash(32)> <offset(2)> <data> per record

SLEEP, STARTUP and ENCRYPTED_SESSION_ABT all end the secure session.
*/
package tropic01
