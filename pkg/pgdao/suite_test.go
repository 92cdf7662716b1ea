package pgdao_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/heracles-labs/pgdao/pkg/pgdao"
)

func TestPgdaoScenarios(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "pgdao scenario suite")
}

var (
	bgCtx     context.Context
	container testcontainers.Container
	pool      *pgdao.Pool
)

var _ = BeforeSuite(func() {
	bgCtx = context.Background()
	settings, c, err := setupPostgresContainer(bgCtx)
	Expect(err).NotTo(HaveOccurred())
	container = c
	pool = pgdao.NewPool(settings, pgdao.PoolOptions{MaxSize: 10, IdleTimeout: time.Minute, ReapInterval: 10 * time.Second})

	session, err := pgdao.Open(bgCtx, pool, pgdao.SessionOptions{}, nil)
	Expect(err).NotTo(HaveOccurred())
	_, err = session.Execute(bgCtx, pgdao.Query{Mask: pgdao.MaskNone, Text: `
		CREATE TABLE tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			done BOOLEAN NOT NULL DEFAULT false,
			created_on TIMESTAMPTZ NOT NULL,
			updated_on TIMESTAMPTZ NOT NULL
		)`})
	Expect(err).NotTo(HaveOccurred())

	_, err = session.Execute(bgCtx, pgdao.Query{Mask: pgdao.MaskNone, Text: `
		CREATE TABLE tagged_tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			labels JSONB NOT NULL,
			created_on TIMESTAMPTZ NOT NULL,
			updated_on TIMESTAMPTZ NOT NULL
		)`})
	Expect(err).NotTo(HaveOccurred())
	Expect(session.Close(bgCtx, true)).To(Succeed())
})

var _ = AfterSuite(func() {
	if pool != nil {
		pool.Close()
	}
	if container != nil {
		container.Terminate(bgCtx)
	}
})

// setupPostgresContainer boots a disposable Postgres container, grounded
// on the teacher's own container-per-suite bootstrap.
func setupPostgresContainer(ctx context.Context) (pgdao.ConnectionSettings, testcontainers.Container, error) {
	password, err := generateRandomPassword(16)
	if err != nil {
		return pgdao.ConnectionSettings{}, nil, err
	}

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17.5-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       "pgdao",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return pgdao.ConnectionSettings{}, nil, err
	}

	host, err := c.Host(ctx)
	if err != nil {
		return pgdao.ConnectionSettings{}, nil, err
	}
	port, err := c.MappedPort(ctx, "5432")
	if err != nil {
		return pgdao.ConnectionSettings{}, nil, err
	}

	return pgdao.ConnectionSettings{
		Host:     host,
		Port:     port.Int(),
		User:     "postgres",
		Password: password,
		Database: "pgdao",
	}, c, nil
}

func generateRandomPassword(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length], nil
}

func taskSchema() *pgdao.Schema {
	schema, err := pgdao.NewSchema("task", "tasks", pgdao.NewTypeIDGenerator("task"), []pgdao.Field{
		{Name: "title", Type: pgdao.FieldString},
		{Name: "done", Type: pgdao.FieldBoolean},
	})
	if err != nil {
		panic(fmt.Sprintf("failed to build task schema: %v", err))
	}
	return schema
}
