package meshcore

// Command codes (host → node).
const (
	CmdAppStart          byte = 0x01
	CmdSendTxtMsg        byte = 0x02
	CmdSendChannelTxtMsg byte = 0x03
	CmdGetContacts       byte = 0x04
	CmdSendSelfAdvert    byte = 0x07
	CmdSetAdvertName     byte = 0x08
	CmdSetRadioParams    byte = 0x0B
	CmdSendLogin         byte = 0x1A
	CmdSendStatusReq     byte = 0x1B
)

// Response codes (node → host, solicited).
const (
	RespOK            byte = 0x00
	RespErr           byte = 0x01
	RespContactsStart byte = 0x02
	RespContact       byte = 0x03
	RespEndOfContacts byte = 0x04
	RespSelfInfo      byte = 0x05
	RespSent          byte = 0x06
)

// Push codes (node → host, unsolicited).
const (
	PushAdvert         byte = 0x80
	PushPathUpdated    byte = 0x81
	PushSendConfirmed  byte = 0x82
	PushMsgWaiting     byte = 0x83
	PushLoginSuccess   byte = 0x85
	PushLoginFail      byte = 0x86
	PushStatusResponse byte = 0x87
	PushLogRxData      byte = 0x88
	PushNewAdvert      byte = 0x8A
)

// Frame markers and limits.
const (
	frameOutbound byte = 0x3c // '<'
	frameInbound  byte = 0x3e // '>'

	// maxFrameSize bounds a single payload. Larger length fields are
	// treated as line noise and skipped.
	maxFrameSize = 4096

	// appProtocolVersion is announced in APP_START.
	appProtocolVersion byte = 0x03

	// keyPrefixLen is the public key prefix length used to address
	// direct messages and to match status replies.
	keyPrefixLen = 6

	// PublicKeySize is the length of a node public key in bytes.
	PublicKeySize = 32
)

// Advertised node types.
const (
	AdvTypeNone     uint8 = 0
	AdvTypeChat     uint8 = 1
	AdvTypeRepeater uint8 = 2
	AdvTypeRoom     uint8 = 3
	AdvTypeSensor   uint8 = 4
)

// isPush reports whether a frame code is an unsolicited push.
func isPush(code byte) bool {
	return code >= 0x80
}
