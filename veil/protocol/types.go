package protocol

// MessageType tags every protocol frame.
type MessageType uint8

const (
	MessageTypeCapabilities  MessageType = 1
	MessageTypeHandshakeStep MessageType = 2
	MessageTypeKeyConfirm    MessageType = 3
	MessageTypeRekey         MessageType = 4
	MessageTypeData          MessageType = 5
	MessageTypeClose         MessageType = 6
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeCapabilities:
		return "CAPABILITIES"
	case MessageTypeHandshakeStep:
		return "HANDSHAKE_STEP"
	case MessageTypeKeyConfirm:
		return "KEY_CONFIRM"
	case MessageTypeRekey:
		return "REKEY"
	case MessageTypeData:
		return "DATA"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}
