package consts

// Code is a MQTT reason code.
// https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901031
type Code = byte

const (
	Success                     Code = 0x00
	NoMatchingSubscribers       Code = 0x10
	UnspecifiedError            Code = 0x80
	MalformedPacket             Code = 0x81
	ProtocolError               Code = 0x82
	ImplementationSpecificError Code = 0x83
	NotAuthorized               Code = 0x87
	ServerBusy                  Code = 0x89
	ServerShuttingDown          Code = 0x8B
	TopicNameInvalid            Code = 0x90
	PacketIDInUse               Code = 0x91
	PacketTooLarge              Code = 0x95
	QuotaExceeded               Code = 0x97
	PayloadFormatInvalid        Code = 0x99
	RetainNotSupported          Code = 0x9A
	QoSNotSupported             Code = 0x9B
)
