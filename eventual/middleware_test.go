package eventual

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type widget struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
	failOn   string
}

func (p *capturePublisher) JsPublish(ctx context.Context, subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subject == p.failOn {
		return errors.New("broker unavailable")
	}
	p.subjects = append(p.subjects, subject)
	return nil
}

func newTestApp(t *testing.T, pub Publisher) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "app.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&widget{}))

	log := logrus.New()
	log.SetOutput(io.Discard)

	r := gin.New()
	r.Use(Transactional(db, pub, log))
	return r, db
}

func widgetCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&widget{}).Count(&n).Error)
	return n
}

func TestCommitPublishesEvents(t *testing.T) {
	pub := &capturePublisher{}
	r, db := newTestApp(t, pub)

	r.POST("/widgets", func(c *gin.Context) {
		require.NoError(t, Tx(c).Create(&widget{Name: "w1"}).Error)
		Enqueue(c, "widget.v1.created", map[string]string{"name": "w1"})
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/widgets", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []string{"widget.v1.created"}, pub.subjects)
	assert.Equal(t, int64(1), widgetCount(t, db))
}

func TestHandlerErrorRollsBackAndDropsEvents(t *testing.T) {
	pub := &capturePublisher{}
	r, db := newTestApp(t, pub)

	r.POST("/widgets", func(c *gin.Context) {
		require.NoError(t, Tx(c).Create(&widget{Name: "w1"}).Error)
		Enqueue(c, "widget.v1.created", nil)
		c.Error(errors.New("business rule violated"))
		c.JSON(http.StatusBadRequest, gin.H{"ok": false})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/widgets", nil))

	assert.Empty(t, pub.subjects, "events from a failed request must not publish")
	assert.Zero(t, widgetCount(t, db))
}

func TestPublishFailureRollsBackWrites(t *testing.T) {
	pub := &capturePublisher{failOn: "widget.v1.created"}
	r, db := newTestApp(t, pub)

	r.POST("/widgets", func(c *gin.Context) {
		require.NoError(t, Tx(c).Create(&widget{Name: "w1"}).Error)
		Enqueue(c, "widget.v1.created", nil)
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/widgets", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Zero(t, widgetCount(t, db), "writes must roll back when the event cannot publish")
}

func TestSkipBypassesTransaction(t *testing.T) {
	pub := &capturePublisher{}
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "app.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)

	r := gin.New()
	r.GET("/health", Skip(), Transactional(db, pub, log), func(c *gin.Context) {
		assert.Nil(t, Tx(c), "skipped requests have no transaction scope")
		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadOnlyRequestOpensNoTransaction(t *testing.T) {
	pub := &capturePublisher{}
	r, _ := newTestApp(t, pub)

	r.GET("/widgets", func(c *gin.Context) {
		assert.Empty(t, PendingEvents(c))
		c.JSON(http.StatusOK, gin.H{"items": []string{}})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/widgets", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, pub.subjects)
}
