package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/budbot/whatsapp-gateway/internal/model"
	"github.com/budbot/whatsapp-gateway/internal/repository"
	"github.com/budbot/whatsapp-gateway/pkg/pg"
	"github.com/budbot/whatsapp-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.LeadEntity{},
		&repository.MessageEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// unique connection name per test, the adapter cache is global
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestLead(t *testing.T, db *pg.DB, name, phone string) *repository.LeadEntity {
	ctx := context.Background()
	lead := &repository.LeadEntity{
		Name:   name,
		Phone:  phone,
		Status: string(model.LeadStatusNew),
	}
	err := db.Write(ctx).Create(lead).Error
	require.NoError(t, err)
	return lead
}

func CreateTestMessage(t *testing.T, db *pg.DB, leadID int64, sender, content string) *repository.MessageEntity {
	ctx := context.Background()
	msg := &repository.MessageEntity{
		LeadID:      leadID,
		Sender:      sender,
		Content:     content,
		MessageType: string(model.MessageTypeText),
		CreatedAt:   time.Now(),
	}
	err := db.Write(ctx).Create(msg).Error
	require.NoError(t, err)
	return msg
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func Ptr[T any](v T) *T {
	return &v
}
