package pgdao_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/heracles-labs/pgdao/pkg/pgdao"
)

var _ = Describe("session scenarios", func() {
	var schema *pgdao.Schema

	BeforeEach(func() {
		schema = taskSchema()
	})

	// S4: reloading a dirty mutable model rejects with a SessionError.
	It("rejects reload of a model modified since it was fetched", func() {
		session, err := pgdao.Open(bgCtx, pool, pgdao.SessionOptions{}, nil)
		Expect(err).NotTo(HaveOccurred())
		defer session.Close(bgCtx, false)

		task, err := session.Create(bgCtx, schema, map[string]any{"title": "seed", "done": false})
		Expect(err).NotTo(HaveOccurred())
		Expect(session.Flush(bgCtx)).To(Succeed())

		loaded, err := session.GetOne(bgCtx, schema, map[string]any{"id": task.ID()}, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Set("title", "modified")).To(Succeed())

		_, err = session.GetOne(bgCtx, schema, map[string]any{"id": task.ID()}, true)
		Expect(err).To(HaveOccurred())
		Expect(pgdao.IsSessionError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("model has been modified"))
	})

	// S5: a committed change is visible, with updatedOn strictly later.
	It("commits a mutation visibly to a later session", func() {
		setup, err := pgdao.Open(bgCtx, pool, pgdao.SessionOptions{}, nil)
		Expect(err).NotTo(HaveOccurred())
		task, err := setup.Create(bgCtx, schema, map[string]any{"title": "before", "done": false})
		Expect(err).NotTo(HaveOccurred())
		id := task.ID()
		// Close(true) flushes pending changes on its own.
		Expect(setup.Close(bgCtx, true)).To(Succeed())

		mutate, err := pgdao.Open(bgCtx, pool, pgdao.SessionOptions{}, nil)
		Expect(err).NotTo(HaveOccurred())
		loaded, err := mutate.GetOne(bgCtx, schema, map[string]any{"id": id}, true)
		Expect(err).NotTo(HaveOccurred())
		beforeUpdatedOn := loaded.Get("updatedOn")
		Expect(loaded.Set("title", "after")).To(Succeed())
		Expect(mutate.Close(bgCtx, true)).To(Succeed())

		verify, err := pgdao.Open(bgCtx, pool, pgdao.SessionOptions{Readonly: true}, nil)
		Expect(err).NotTo(HaveOccurred())
		defer verify.Close(bgCtx, true)
		reread, err := verify.GetOne(bgCtx, schema, map[string]any{"id": id}, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(reread.Get("title")).To(Equal("after"))
		Expect(reread.Get("updatedOn")).NotTo(Equal(beforeUpdatedOn))
	})

	// S6: a failing custom serializer during flush rejects the close and
	// leaves the leased client discarded rather than returned to the pool.
	It("discards the client when a custom serializer fails during flush", func() {
		failing := failingHandler{}
		tagSchema, err := pgdao.NewSchema("taggedTask", "tagged_tasks", pgdao.NewTypeIDGenerator("tt"), []pgdao.Field{
			{Name: "title", Type: pgdao.FieldString},
			{Name: "labels", Type: pgdao.FieldArray, Handler: failing},
		})
		Expect(err).NotTo(HaveOccurred())

		session, err := pgdao.Open(bgCtx, pool, pgdao.SessionOptions{}, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = session.Create(bgCtx, tagSchema, map[string]any{"title": "x", "labels": []string{"a"}})
		Expect(err).NotTo(HaveOccurred())

		err = session.Flush(bgCtx)
		Expect(err).To(HaveOccurred())

		err = session.Close(bgCtx, true)
		Expect(err).To(HaveOccurred())

		// Closing an already-closed session is a no-op error, not a panic.
		err = session.Close(bgCtx, false)
		Expect(pgdao.IsSessionError(err)).To(BeTrue())
	})
})

type failingHandler struct{}

func (failingHandler) Parse(text string) (any, error) { return nil, nil }
func (failingHandler) Serialize(value any) (string, error) {
	return "", errors.New("serializer always fails")
}
func (failingHandler) Clone(value any) any      { return value }
func (failingHandler) AreEqual(a, b any) bool   { return false }
