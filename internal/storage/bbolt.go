package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"sigilix/internal/chat"
)

var (
	bucketChats    = []byte("chats")
	bucketMessages = []byte("messages")
	bucketMeta     = []byte("meta")

	keySalt = []byte("salt")
)

const (
	saltSize   = 16
	checkMagic = "sigilix"
)

var (
	ErrSealed        = errors.New("storage is sealed")
	ErrWrongPassword = errors.New("wrong password for local storage")
)

type BboltStorage struct {
	db *bbolt.DB

	mu   sync.RWMutex
	aead cipher.AEAD
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketChats); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	s.Seal()
	return s.db.Close()
}

// Unseal derives the record key from password. The first Unseal on a fresh
// database fixes the password; later calls with another one fail with
// ErrWrongPassword.
func (s *BboltStorage) Unseal(password string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)

		salt := meta.Get(keySalt)
		if salt == nil {
			salt = make([]byte, saltSize)
			if _, err := rand.Read(salt); err != nil {
				return fmt.Errorf("failed to generate salt: %w", err)
			}
			if err := meta.Put(keySalt, salt); err != nil {
				return err
			}
		}

		key := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return fmt.Errorf("failed to create cipher: %w", err)
		}

		check := &DBKeyCheck{Magic: checkMagic}
		if sealed := meta.Get(check.Key()); sealed != nil {
			var stored DBKeyCheck
			if err := open(aead, check.Key(), sealed, &stored); err != nil || stored.Magic != checkMagic {
				return ErrWrongPassword
			}
		} else if err := put(aead, meta, check); err != nil {
			return err
		}

		s.mu.Lock()
		s.aead = aead
		s.mu.Unlock()
		return nil
	})
}

// Seal forgets the record key.
func (s *BboltStorage) Seal() {
	s.mu.Lock()
	s.aead = nil
	s.mu.Unlock()
}

func (s *BboltStorage) currentAEAD() (cipher.AEAD, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aead == nil {
		return nil, ErrSealed
	}
	return s.aead, nil
}

// SaveChats replaces the stored snapshot with chats.
func (s *BboltStorage) SaveChats(chats []*chat.Chat) error {
	aead, err := s.currentAEAD()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChats, bucketMessages} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
		}
		chatsBucket, err := tx.CreateBucket(bucketChats)
		if err != nil {
			return err
		}
		mainMsgBucket, err := tx.CreateBucket(bucketMessages)
		if err != nil {
			return err
		}

		for _, c := range chats {
			dbChat := &DBChat{
				ID:          c.ID,
				Title:       c.Title(),
				IsCreator:   c.IsCreator(),
				Accepted:    c.Accepted(),
				OtherUserID: c.OtherUserID(),
			}
			if err := put(aead, chatsBucket, dbChat); err != nil {
				return fmt.Errorf("failed to put chat %d: %w", c.ID, err)
			}

			messages := c.Messages()
			if len(messages) == 0 {
				continue
			}
			chatBucket, err := mainMsgBucket.CreateBucket(dbChat.Key())
			if err != nil {
				return fmt.Errorf("failed to create chat bucket: %w", err)
			}
			for i, msg := range messages {
				dbMessage := &DBMessage{
					Seq:      uint64(i),
					ID:       msg.ID,
					ChatID:   c.ID,
					SentByUs: msg.SentByUs,
					Text:     msg.Text,
				}
				if err := put(aead, chatBucket, dbMessage); err != nil {
					return fmt.Errorf("failed to put message: %w", err)
				}
			}
		}
		return nil
	})
}

// Load returns the stored snapshot with messages in arrival order.
func (s *BboltStorage) Load() ([]*chat.Chat, error) {
	aead, err := s.currentAEAD()
	if err != nil {
		return nil, err
	}

	var chats []*chat.Chat
	err = s.db.View(func(tx *bbolt.Tx) error {
		mainMsgBucket := tx.Bucket(bucketMessages)
		return tx.Bucket(bucketChats).ForEach(func(k, v []byte) error {
			var dbChat DBChat
			if err := open(aead, k, v, &dbChat); err != nil {
				return fmt.Errorf("failed to open chat: %w", err)
			}

			var messages []chat.Message
			if chatBucket := mainMsgBucket.Bucket(k); chatBucket != nil {
				c := chatBucket.Cursor()
				for mk, mv := c.First(); mk != nil; mk, mv = c.Next() {
					var dbMsg DBMessage
					if err := open(aead, mk, mv, &dbMsg); err != nil {
						return fmt.Errorf("failed to open message: %w", err)
					}
					messages = append(messages, chat.Message{
						ID:       dbMsg.ID,
						ChatID:   dbMsg.ChatID,
						SentByUs: dbMsg.SentByUs,
						Text:     dbMsg.Text,
					})
				}
			}

			chats = append(chats, chat.New(chat.Config{
				ID:          dbChat.ID,
				Title:       dbChat.Title,
				IsCreator:   dbChat.IsCreator,
				Accepted:    dbChat.Accepted,
				OtherUserID: dbChat.OtherUserID,
				Messages:    messages,
			}))
			return nil
		})
	})
	return chats, err
}

// put seals item with its key as additional data so a record cannot be
// moved under another key.
func put(aead cipher.AEAD, b *bbolt.Bucket, item Storeable) error {
	data, err := item.MarshalBinary()
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	key := item.Key()
	return b.Put(key, aead.Seal(nonce, nonce, data, key))
}

func open(aead cipher.AEAD, key, sealed []byte, item Storeable) error {
	if len(sealed) < aead.NonceSize() {
		return errors.New("sealed record too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	data, err := aead.Open(nil, nonce, ciphertext, key)
	if err != nil {
		return err
	}
	return item.UnmarshalBinary(data)
}
