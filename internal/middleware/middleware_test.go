package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flowmail/backend/internal/auth/jwt"
	"flowmail/backend/internal/domain"
	"flowmail/backend/internal/monitoring"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	manager := jwt.NewManager(testSecret, "", []string{"boss@example.com"})
	auth := NewJWTAuth(manager, zap.NewNop())

	r := gin.New()
	r.GET("/me", auth.RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, PrincipalFrom(c))
	})
	r.GET("/admin", auth.RequireAuth(), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	userToken, err := manager.GenerateToken("u1", "user@example.com", "", time.Hour)
	require.NoError(t, err)
	bossToken, err := manager.GenerateToken("u2", "boss@example.com", "", time.Hour)
	require.NoError(t, err)

	t.Run("缺少令牌", func(t *testing.T) {
		w := perform(r, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("无效令牌", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		w := perform(r, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("有效令牌", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+userToken)
		w := perform(r, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"UserID":"u1"`)
	})

	t.Run("普通用户访问管理接口", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+userToken)
		assert.Equal(t, http.StatusForbidden, perform(r, req).Code)
	})

	t.Run("管理员邮箱", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+bossToken)
		assert.Equal(t, http.StatusNoContent, perform(r, req).Code)
	})
}

type roleResolver struct {
	admins map[string]bool
	err    error
}

func (r roleResolver) ResolvePrincipal(_ context.Context, p *domain.Principal) (*domain.Principal, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := *p
	out.Admin = p.Admin || r.admins[p.UserID]
	return &out, nil
}

func TestJWTAuth_WithResolver(t *testing.T) {
	manager := jwt.NewManager(testSecret, "", nil)
	token, err := manager.GenerateToken("u1", "user@example.com", "", time.Hour)
	require.NoError(t, err)

	newRouter := func(r PrincipalResolver) *gin.Engine {
		auth := NewJWTAuth(manager, zap.NewNop()).WithResolver(r)
		engine := gin.New()
		engine.GET("/admin", auth.RequireAuth(), RequireAdmin(), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		return engine
	}
	request := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	t.Run("库中角色为管理员", func(t *testing.T) {
		w := perform(newRouter(roleResolver{admins: map[string]bool{"u1": true}}), request())
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("库中角色为普通用户", func(t *testing.T) {
		w := perform(newRouter(roleResolver{}), request())
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("补全失败", func(t *testing.T) {
		w := perform(newRouter(roleResolver{err: errors.New("db down")}), request())
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestWebhookToken(t *testing.T) {
	r := gin.New()
	r.POST("/hook", WebhookToken("s3cret"), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/hook", nil)
	assert.Equal(t, http.StatusUnauthorized, perform(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/hook", nil)
	req.Header.Set(WebhookTokenHeader, "s3cret")
	assert.Equal(t, http.StatusOK, perform(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/hook?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, perform(r, req).Code)

	open := gin.New()
	open.POST("/hook", WebhookToken(""), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, perform(open, httptest.NewRequest(http.MethodPost, "/hook", nil)).Code)
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/upload", BodySizeLimit(8), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := perform(r, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = perform(r, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("0123")))
	assert.Equal(t, http.StatusOK, w.Code)
}

type fixedCounter struct {
	n   int64
	err error
}

func (f *fixedCounter) IncrementRateLimit(context.Context, string, time.Duration) (int64, error) {
	f.n++
	return f.n, f.err
}

func TestRateLimiter(t *testing.T) {
	metrics := monitoring.NewMetrics()

	t.Run("共享计数器", func(t *testing.T) {
		rl := NewRateLimiter("inbound", 2, &fixedCounter{}, metrics, nil)
		r := gin.New()
		r.POST("/hook", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

		for i := 0; i < 2; i++ {
			assert.Equal(t, http.StatusOK, perform(r, httptest.NewRequest(http.MethodPost, "/hook", nil)).Code)
		}
		w := perform(r, httptest.NewRequest(http.MethodPost, "/hook", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))
	})

	t.Run("计数器故障时使用本地令牌桶", func(t *testing.T) {
		rl := NewRateLimiter("inbound", 1, &fixedCounter{err: errors.New("redis down")}, metrics, nil)
		r := gin.New()
		r.POST("/hook", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

		assert.Equal(t, http.StatusOK, perform(r, httptest.NewRequest(http.MethodPost, "/hook", nil)).Code)
		assert.Equal(t, http.StatusTooManyRequests, perform(r, httptest.NewRequest(http.MethodPost, "/hook", nil)).Code)
	})

	t.Run("不限流", func(t *testing.T) {
		rl := NewRateLimiter("inbound", 0, nil, nil, nil)
		r := gin.New()
		r.POST("/hook", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, perform(r, httptest.NewRequest(http.MethodPost, "/hook", nil)).Code)
		}
	})
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zap.NewNop(), nil))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := perform(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPrincipalFrom_Unset(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, PrincipalFrom(c))

	SetPrincipal(c, &domain.Principal{UserID: "u"})
	assert.Equal(t, "u", PrincipalFrom(c).UserID)
}
