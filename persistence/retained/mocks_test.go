package retained

import (
	"github.com/gojekfarm/xtools/generic"
	"github.com/stretchr/testify/mock"

	"github.com/zhimiaox/zmqx-retained/models"
)

type mockLocal struct {
	mock.Mock
}

func (m *mockLocal) Get(topic string, bucket int) (*models.RetainedMessage, error) {
	args := m.Called(topic, bucket)
	msg, _ := args.Get(0).(*models.RetainedMessage)
	return msg, args.Error(1)
}

func (m *mockLocal) Put(msg *models.RetainedMessage, topic string, bucket int) (*models.RetainedMessage, error) {
	args := m.Called(msg, topic, bucket)
	prev, _ := args.Get(0).(*models.RetainedMessage)
	return prev, args.Error(1)
}

func (m *mockLocal) Remove(topic string, bucket int) (*models.RetainedMessage, error) {
	args := m.Called(topic, bucket)
	removed, _ := args.Get(0).(*models.RetainedMessage)
	return removed, args.Error(1)
}

func (m *mockLocal) GetAllTopics(filter string, bucket int) (generic.Set[string], error) {
	args := m.Called(filter, bucket)
	topics, _ := args.Get(0).(generic.Set[string])
	return topics, args.Error(1)
}

func (m *mockLocal) Size() (int64, error) {
	args := m.Called()
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockLocal) CleanUp(bucket int) ([]uint64, error) {
	args := m.Called(bucket)
	ids, _ := args.Get(0).([]uint64)
	return ids, args.Error(1)
}

func (m *mockLocal) Clear(bucket int) ([]uint64, error) {
	args := m.Called(bucket)
	ids, _ := args.Get(0).([]uint64)
	return ids, args.Error(1)
}

func (m *mockLocal) CloseDB(bucket int) error {
	return m.Called(bucket).Error(0)
}

type mockPayloads struct {
	mock.Mock
}

func (m *mockPayloads) Add(payload []byte, referenceCount int64, payloadID uint64) error {
	return m.Called(payload, referenceCount, payloadID).Error(0)
}

func (m *mockPayloads) Get(payloadID uint64) ([]byte, error) {
	args := m.Called(payloadID)
	payload, _ := args.Get(0).([]byte)
	return payload, args.Error(1)
}

func (m *mockPayloads) Decrement(payloadID uint64) error {
	return m.Called(payloadID).Error(0)
}

func (m *mockPayloads) ReferenceCount(payloadID uint64) (int64, error) {
	args := m.Called(payloadID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPayloads) Close() error {
	return m.Called().Error(0)
}
