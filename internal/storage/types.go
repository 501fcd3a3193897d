package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

func uint64Key(v uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, v)
	return key
}

type DBChat struct {
	ID          uint64 `msgpack:"id"`
	Title       string `msgpack:"title"`
	IsCreator   bool   `msgpack:"isCreator"`
	Accepted    bool   `msgpack:"accepted"`
	OtherUserID uint64 `msgpack:"otherUserId"`
}

func (c *DBChat) Key() []byte {
	return uint64Key(c.ID)
}

func (c *DBChat) MarshalBinary() (data []byte, err error) {
	type alias DBChat
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChat) UnmarshalBinary(data []byte) error {
	type alias DBChat
	return msgpack.Unmarshal(data, (*alias)(c))
}

// DBMessage is keyed by its position in the chat so that a cursor walk
// returns messages in arrival order.
type DBMessage struct {
	Seq      uint64 `msgpack:"seq"`
	ID       uint64 `msgpack:"id"`
	ChatID   uint64 `msgpack:"chatId"`
	SentByUs bool   `msgpack:"sentByUs"`
	Text     string `msgpack:"text"`
}

func (m *DBMessage) Key() []byte {
	return uint64Key(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBKeyCheck is stored once per database and lets Unseal tell a wrong
// password from a corrupt record.
type DBKeyCheck struct {
	Magic string `msgpack:"magic"`
}

func (k *DBKeyCheck) Key() []byte {
	return []byte("check")
}

func (k *DBKeyCheck) MarshalBinary() (data []byte, err error) {
	type alias DBKeyCheck
	return msgpack.Marshal((*alias)(k))
}

func (k *DBKeyCheck) UnmarshalBinary(data []byte) error {
	type alias DBKeyCheck
	return msgpack.Unmarshal(data, (*alias)(k))
}
