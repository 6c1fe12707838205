package health

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing(name string) Checker {
	return CheckFunc{CheckName: name, Fn: func(context.Context) error { return errors.New(name + " down") }}
}

func passing(name string) Checker {
	return CheckFunc{CheckName: name, Fn: func(context.Context) error { return nil }}
}

func TestRegistryStatus(t *testing.T) {
	tests := []struct {
		name     string
		critical []Checker
		optional []Checker
		want     Status
	}{
		{name: "empty", want: StatusHealthy},
		{name: "all pass", critical: []Checker{passing("db")}, optional: []Checker{passing("kafka")}, want: StatusHealthy},
		{name: "optional fails", critical: []Checker{passing("db")}, optional: []Checker{failing("kafka")}, want: StatusDegraded},
		{name: "critical fails", critical: []Checker{failing("db")}, optional: []Checker{failing("kafka")}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.critical {
				r.Register(c)
			}
			for _, c := range tt.optional {
				r.RegisterOptional(c)
			}

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.critical)+len(tt.optional))
		})
	}
}

func TestPostgreSQLChecker(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("refused"))

	r := NewCheckerRegistry()
	r.Register(NewPostgreSQLChecker(db))
	h := r.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Contains(t, h.Checks["postgresql"].Message, "refused")
}

func TestKafkaCheckerWithoutBrokers(t *testing.T) {
	err := NewKafkaChecker(nil).Check(context.Background())
	assert.EqualError(t, err, "no kafka brokers configured")
}
