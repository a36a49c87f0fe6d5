package kiss

import "fmt"

// Command is the first byte of every frame.
type Command byte

// Host to modem requests.
const (
	CmdData        Command = 0x00
	CmdGetIdentity Command = 0x01
	CmdSignData    Command = 0x04
	CmdEncryptData Command = 0x05
	CmdDecryptData Command = 0x06
	CmdKeyExchange Command = 0x07
	CmdHash        Command = 0x08
)

// Modem to host responses.
const (
	RespIdentity     Command = 0x11
	RespSignature    Command = 0x14
	RespEncrypted    Command = 0x15
	RespDecrypted    Command = 0x16
	RespSharedSecret Command = 0x17
	RespHash         Command = 0x18
)

var commandNames = map[Command]string{
	CmdData:          "data",
	CmdGetIdentity:   "get_identity",
	CmdSignData:      "sign_data",
	CmdEncryptData:   "encrypt_data",
	CmdDecryptData:   "decrypt_data",
	CmdKeyExchange:   "key_exchange",
	CmdHash:          "hash",
	RespIdentity:     "resp_identity",
	RespSignature:    "resp_signature",
	RespEncrypted:    "resp_encrypted",
	RespDecrypted:    "resp_decrypted",
	RespSharedSecret: "resp_shared_secret",
	RespHash:         "resp_hash",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(c))
}

// Response returns the reply command paired with a request.
func (c Command) Response() (Command, bool) {
	switch c {
	case CmdGetIdentity:
		return RespIdentity, true
	case CmdSignData:
		return RespSignature, true
	case CmdEncryptData:
		return RespEncrypted, true
	case CmdDecryptData:
		return RespDecrypted, true
	case CmdKeyExchange:
		return RespSharedSecret, true
	case CmdHash:
		return RespHash, true
	default:
		return 0, false
	}
}
