// Package storetest holds the conformance suite every retained backend must pass.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/suite"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/consts"
	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/models"
	"github.com/zhimiaox/zmqx-retained/packets"
	"github.com/zhimiaox/zmqx-retained/persistence"
	"github.com/zhimiaox/zmqx-retained/persistence/retained"
	"github.com/zhimiaox/zmqx-retained/persistence/singlewriter"
)

const bucketCount = 8

// BackendSuite runs against the backend built by NewBackend.
// The clock handed to NewBackend must be used for every expiry decision.
type BackendSuite struct {
	suite.Suite
	NewBackend func(bucketCount int, now func() time.Time) persistence.Backend

	backend persistence.Backend
	now     time.Time
}

func (s *BackendSuite) SetupTest() {
	s.now = time.UnixMilli(1_700_000_000_000)
	s.backend = s.NewBackend(bucketCount, func() time.Time { return s.now })
}

func (s *BackendSuite) TearDownTest() {
	for b := 0; b < bucketCount; b++ {
		_, _ = s.backend.Local().Clear(b)
		_ = s.backend.Local().CloseDB(b)
	}
	s.NoError(s.backend.Close())
}

func (s *BackendSuite) message(topic, payload string) *models.RetainedMessage {
	return models.NewRetainedMessage(topic, packets.Qos1, []byte(payload), s.now)
}

func stored(msg *models.RetainedMessage) *models.RetainedMessage {
	want := msg.Copy()
	want.Payload = nil
	return want
}

func (s *BackendSuite) TestPutGet() {
	local := s.backend.Local()
	msg := s.message("a/b", "one")
	msg.ExpiryInterval = 3600
	msg.ContentType = "text/plain"
	msg.UserProperties = []packets.UserProperty{{K: []byte("k"), V: []byte("v")}}

	prev, err := local.Put(msg, "a/b", 1)
	s.Require().NoError(err)
	s.Nil(prev)

	got, err := local.Get("a/b", 1)
	s.Require().NoError(err)
	if diff := cmp.Diff(stored(msg), got); diff != "" {
		s.Failf("record mismatch", "(-want +got):\n%s", diff)
	}

	next := s.message("a/b", "two")
	prev, err = local.Put(next, "a/b", 1)
	s.Require().NoError(err)
	s.Require().NotNil(prev)
	s.Equal(msg.PayloadID, prev.PayloadID)

	got, err = local.Get("a/b", 1)
	s.Require().NoError(err)
	s.Equal(next.PayloadID, got.PayloadID)

	got, err = local.Get("a/b", 2)
	s.Require().NoError(err)
	s.Nil(got, "records are scoped to their bucket")
}

func (s *BackendSuite) TestRemove() {
	local := s.backend.Local()
	removed, err := local.Remove("missing", 0)
	s.Require().NoError(err)
	s.Nil(removed)

	msg := s.message("a", "x")
	_, err = local.Put(msg, "a", 0)
	s.Require().NoError(err)
	removed, err = local.Remove("a", 0)
	s.Require().NoError(err)
	s.Require().NotNil(removed)
	s.Equal(msg.PayloadID, removed.PayloadID)

	got, err := local.Get("a", 0)
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *BackendSuite) TestGetAllTopics() {
	local := s.backend.Local()
	for _, topic := range []string{"topic", "topic/1", "topic/2", "topic/2/x", "other/1", "$SYS/topic"} {
		_, err := local.Put(s.message(topic, topic), topic, 3)
		s.Require().NoError(err)
	}
	tests := []struct {
		filter string
		want   []string
	}{
		{"topic/#", []string{"topic", "topic/1", "topic/2", "topic/2/x"}},
		{"topic/+", []string{"topic/1", "topic/2"}},
		{"+/1", []string{"topic/1", "other/1"}},
		{"#", []string{"topic", "topic/1", "topic/2", "topic/2/x", "other/1"}},
		{"$SYS/#", []string{"$SYS/topic"}},
		{"none/#", nil},
	}
	for _, tt := range tests {
		topics, err := local.GetAllTopics(tt.filter, 3)
		s.Require().NoError(err, tt.filter)
		s.Len(topics, len(tt.want), tt.filter)
		s.True(topics.HasAll(tt.want...), tt.filter)
	}
}

func (s *BackendSuite) TestSize() {
	local := s.backend.Local()
	for b := 0; b < bucketCount; b++ {
		_, err := local.Put(s.message("t", "x"), "t", b)
		s.Require().NoError(err)
	}
	_, err := local.Put(s.message("t", "y"), "t", 0)
	s.Require().NoError(err)

	n, err := local.Size()
	s.Require().NoError(err)
	s.Equal(int64(bucketCount), n)
}

func (s *BackendSuite) TestExpiry() {
	local := s.backend.Local()
	short := s.message("short", "s")
	short.ExpiryInterval = 10
	forever := s.message("forever", "f")
	_, err := local.Put(short, "short", 4)
	s.Require().NoError(err)
	_, err = local.Put(forever, "forever", 4)
	s.Require().NoError(err)

	s.now = s.now.Add(11 * time.Second)

	n, err := local.Size()
	s.Require().NoError(err)
	s.Equal(int64(2), n, "expired records count until they are purged")

	got, err := local.Get("short", 4)
	s.Require().NoError(err)
	s.Nil(got, "expired records are invisible")
	topics, err := local.GetAllTopics("#", 4)
	s.Require().NoError(err)
	s.Len(topics, 1)
	s.True(topics.Has("forever"))

	released, err := local.CleanUp(4)
	s.Require().NoError(err)
	s.Equal([]uint64{short.PayloadID}, released)

	released, err = local.CleanUp(4)
	s.Require().NoError(err)
	s.Empty(released)

	n, err = local.Size()
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *BackendSuite) TestClear() {
	local := s.backend.Local()
	a, b := s.message("a", "1"), s.message("b", "2")
	_, err := local.Put(a, "a", 5)
	s.Require().NoError(err)
	_, err = local.Put(b, "b", 5)
	s.Require().NoError(err)
	_, err = local.Put(s.message("c", "3"), "c", 6)
	s.Require().NoError(err)

	released, err := local.Clear(5)
	s.Require().NoError(err)
	s.ElementsMatch([]uint64{a.PayloadID, b.PayloadID}, released)

	got, err := local.Get("a", 5)
	s.Require().NoError(err)
	s.Nil(got)
	n, err := local.Size()
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *BackendSuite) TestPayloads() {
	payloads := s.backend.Payloads()
	id := models.PayloadID([]byte("blob"))

	_, err := payloads.Get(id)
	s.ErrorIs(err, errors.ErrPayloadNotFound)
	s.NoError(payloads.Decrement(id), "unknown ids are ignored")

	s.Require().NoError(payloads.Add([]byte("blob"), 1, id))
	s.Require().NoError(payloads.Add([]byte("blob"), 2, id))
	n, err := payloads.ReferenceCount(id)
	s.Require().NoError(err)
	s.Equal(int64(3), n)

	got, err := payloads.Get(id)
	s.Require().NoError(err)
	s.Equal([]byte("blob"), got)

	s.Require().NoError(payloads.Decrement(id))
	s.Require().NoError(payloads.Decrement(id))
	_, err = payloads.Get(id)
	s.Require().NoError(err)

	s.Require().NoError(payloads.Decrement(id))
	_, err = payloads.Get(id)
	s.ErrorIs(err, errors.ErrPayloadNotFound, "reclaimed at zero")
	n, err = payloads.ReferenceCount(id)
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *BackendSuite) TestEmptyPayload() {
	payloads := s.backend.Payloads()
	id := models.PayloadID(nil)
	s.Require().NoError(payloads.Add(nil, 1, id))
	got, err := payloads.Get(id)
	s.Require().NoError(err)
	s.Empty(got)
}

func await[T any](f *common.Future[T]) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Get(ctx)
}

// TestOrchestrator drives the backend through the retained orchestrator.
func (s *BackendSuite) TestOrchestrator() {
	writer := singlewriter.New(bucketCount)
	writer.Start()
	defer writer.Stop()
	p := retained.New(s.backend.Local(), s.backend.Payloads(), writer, retained.WithClock(func() time.Time { return s.now }))
	payloads := s.backend.Payloads()

	shared := []byte("shared")
	topics := []string{"home/kitchen/temp", "home/hall/temp", "home/kitchen/light", "garden/temp"}
	for _, topic := range topics {
		_, err := await(p.Persist(topic, models.NewRetainedMessage(topic, packets.Qos0, shared, s.now)))
		s.Require().NoError(err)
	}
	sharedID := models.PayloadID(shared)
	n, err := payloads.ReferenceCount(sharedID)
	s.Require().NoError(err)
	s.Equal(int64(len(topics)), n, "one reference per record")

	msg, err := await(p.Get("home/kitchen/temp"))
	s.Require().NoError(err)
	s.Require().NotNil(msg)
	s.Equal(shared, msg.Payload)
	s.Equal("home/kitchen/temp", msg.Topic)

	matched, err := await(p.GetWithWildcards("home/+/temp"))
	s.Require().NoError(err)
	s.Len(matched, 2)
	s.True(matched.HasAll("home/kitchen/temp", "home/hall/temp"))

	size, err := p.Size()
	s.Require().NoError(err)
	s.Equal(int64(len(topics)), size)

	// overwrite moves the reference to the new payload
	_, err = await(p.Persist("garden/temp", models.NewRetainedMessage("garden/temp", packets.Qos0, []byte("new"), s.now)))
	s.Require().NoError(err)
	n, err = payloads.ReferenceCount(sharedID)
	s.Require().NoError(err)
	s.Equal(int64(len(topics)-1), n)

	_, err = await(p.Remove("garden/temp"))
	s.Require().NoError(err)
	_, err = payloads.Get(models.PayloadID([]byte("new")))
	s.ErrorIs(err, errors.ErrPayloadNotFound)

	_, err = await(p.Remove("garden/temp"))
	s.Require().NoError(err, "removing an absent topic succeeds")

	_, err = await(p.Clear())
	s.Require().NoError(err)
	_, err = payloads.Get(sharedID)
	s.ErrorIs(err, errors.ErrPayloadNotFound)
	size, err = p.Size()
	s.Require().NoError(err)
	s.Zero(size)

	_, err = await(p.CloseDB())
	s.Require().NoError(err)
}

func (s *BackendSuite) TestLongTopics() {
	local := s.backend.Local()
	longest := strings.Repeat("a", consts.MaxTopicLength)
	sibling := strings.Repeat("a", consts.MaxTopicLength-1) + "b"
	for _, topic := range []string{longest, sibling, "a/b"} {
		prev, err := local.Put(s.message(topic, topic[len(topic)-1:]), topic, 2)
		s.Require().NoError(err)
		s.Nil(prev)
	}

	got, err := local.Get(longest, 2)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(longest, got.Topic)
	s.Equal(models.PayloadID([]byte("a")), got.PayloadID)

	topics, err := local.GetAllTopics("#", 2)
	s.Require().NoError(err)
	s.Len(topics, 3)
	s.True(topics.HasAll(longest, sibling, "a/b"))

	prev, err := local.Put(s.message(longest, "c"), longest, 2)
	s.Require().NoError(err)
	s.Require().NotNil(prev)
	s.Equal(longest, prev.Topic)

	removed, err := local.Remove(sibling, 2)
	s.Require().NoError(err)
	s.Require().NotNil(removed)
	s.Equal(sibling, removed.Topic)
	got, err = local.Get(sibling, 2)
	s.Require().NoError(err)
	s.Nil(got)

	n, err := local.Size()
	s.Require().NoError(err)
	s.Equal(int64(2), n)
}

// TestConcurrentReferences writes one shared payload from many topics spread over
// every bucket at once and checks that its reference count tracks the live records.
func (s *BackendSuite) TestConcurrentReferences() {
	writer := singlewriter.New(bucketCount)
	writer.Start()
	defer writer.Stop()
	p := retained.New(s.backend.Local(), s.backend.Payloads(), writer, retained.WithClock(func() time.Time { return s.now }))
	payloads := s.backend.Payloads()

	const (
		workers   = 8
		perWorker = 25
	)
	shared := []byte("shared")
	sharedID := models.PayloadID(shared)
	topic := func(w, i int) string {
		return fmt.Sprintf("load/%d/%d", w, i)
	}
	run := func(fn func(w, i int) error) {
		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					if err := fn(w, i); err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			s.NoError(err)
		}
	}

	run(func(w, i int) error {
		t := topic(w, i)
		own := []byte(fmt.Sprintf("own-%d", w))
		for _, payload := range [][]byte{shared, own, shared} {
			if _, err := await(p.Persist(t, models.NewRetainedMessage(t, packets.Qos1, payload, s.now))); err != nil {
				return err
			}
		}
		return nil
	})

	n, err := payloads.ReferenceCount(sharedID)
	s.Require().NoError(err)
	s.Equal(int64(workers*perWorker), n, "one reference per live record")
	for w := 0; w < workers; w++ {
		n, err = payloads.ReferenceCount(models.PayloadID([]byte(fmt.Sprintf("own-%d", w))))
		s.Require().NoError(err)
		s.Zero(n, "overwritten payloads are released")
	}
	size, err := p.Size()
	s.Require().NoError(err)
	s.Equal(int64(workers*perWorker), size)

	run(func(w, i int) error {
		_, err := await(p.Remove(topic(w, i)))
		return err
	})

	n, err = payloads.ReferenceCount(sharedID)
	s.Require().NoError(err)
	s.Zero(n)
	_, err = payloads.Get(sharedID)
	s.ErrorIs(err, errors.ErrPayloadNotFound)
	size, err = p.Size()
	s.Require().NoError(err)
	s.Zero(size)
}
