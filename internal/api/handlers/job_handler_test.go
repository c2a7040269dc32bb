package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/replywatch/replywatch-backend/internal/models"
	"github.com/replywatch/replywatch-backend/internal/repository"
)

// JobHandlerTestSuite is the test suite for JobHandler
type JobHandlerTestSuite struct {
	suite.Suite
	echo    *echo.Echo
	db      *gorm.DB
	jobs    repository.JobRepository
	handler *JobHandler
	account *models.Account
}

func (s *JobHandlerTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	s.Require().NoError(db.AutoMigrate(&models.Account{}, &models.QueueJob{}))
	s.db = db

	s.account = &models.Account{Email: "owner@example.com", ProviderUserID: "user-1", Status: models.AccountConnected}
	s.Require().NoError(db.Create(s.account).Error)

	s.jobs = repository.NewJobRepository(db)
	s.echo = echo.New()
	s.handler = NewJobHandler(s.jobs)
}

func (s *JobHandlerTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	s.Require().NoError(err)
	sqlDB.Close()
}

func TestJobHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(JobHandlerTestSuite))
}

func (s *JobHandlerTestSuite) seedJob(status models.JobStatus) *models.QueueJob {
	job := &models.QueueJob{
		AccountID:  s.account.ID,
		Payload:    []byte(`{"subscriptionId":"sub-1"}`),
		Status:     status,
		RetryCount: 2,
		MaxRetries: 3,
		LastError:  "provider timeout",
	}
	s.Require().NoError(s.db.Create(job).Error)
	return job
}

func (s *JobHandlerTestSuite) TestList_DefaultsToDeadLetter() {
	s.seedJob(models.JobDeadLetter)
	s.seedJob(models.JobPending)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	s.Require().NoError(s.handler.List(c))

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"total":1`)
	s.Contains(rec.Body.String(), "dead_letter")
}

func (s *JobHandlerTestSuite) TestList_InvalidStatus() {
	req := httptest.NewRequest(http.MethodGet, "/api/jobs?status=bogus", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	s.Require().NoError(s.handler.List(c))

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *JobHandlerTestSuite) TestStats() {
	s.seedJob(models.JobDeadLetter)
	s.seedJob(models.JobCompleted)
	s.seedJob(models.JobCompleted)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/stats", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	s.Require().NoError(s.handler.Stats(c))

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"completed":2`)
}

func (s *JobHandlerTestSuite) TestRequeue_ResetsDeadLetterJob() {
	job := s.seedJob(models.JobDeadLetter)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/1/requeue", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")
	s.Require().NoError(s.handler.Requeue(c))

	s.Equal(http.StatusOK, rec.Code)

	requeued, err := s.jobs.GetByID(context.Background(), job.ID)
	s.Require().NoError(err)
	s.Equal(models.JobPending, requeued.Status)
	s.Zero(requeued.RetryCount)
	s.Empty(requeued.LastError)
}

func (s *JobHandlerTestSuite) TestRequeue_PendingJobIsRejected() {
	s.seedJob(models.JobPending)

	req := httptest.NewRequest(http.MethodPost, "/api/jobs/1/requeue", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("1")
	s.Require().NoError(s.handler.Requeue(c))

	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *JobHandlerTestSuite) TestRequeue_InvalidID() {
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/abc/requeue", nil)
	rec := httptest.NewRecorder()
	c := s.echo.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("abc")
	s.Require().NoError(s.handler.Requeue(c))

	s.Equal(http.StatusBadRequest, rec.Code)
}
