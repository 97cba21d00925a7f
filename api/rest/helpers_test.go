package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lorechronicles/server/api/rest"
	"github.com/lorechronicles/server/config"
	"github.com/lorechronicles/server/game/character"
	"github.com/lorechronicles/server/game/interpret"
	"github.com/lorechronicles/server/game/inventory"
	"github.com/lorechronicles/server/game/session"
	"github.com/lorechronicles/server/game/story"
	mw "github.com/lorechronicles/server/middleware"
	"github.com/lorechronicles/server/scheduler"
	"github.com/lorechronicles/server/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminKey = "test-admin-key"

// env is a fully wired test server with one logged-in account.
type env struct {
	db        *gorm.DB
	r         *gin.Engine
	token     string
	accountID int64
}

func newEnv(t *testing.T, interp interpret.Interpreter) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ca := testutil.SetupTestCache(t)
	logger, _ := zap.NewDevelopment()
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}

	chars := character.NewService(db, config.GameConfig{MaxCharacters: 3, StartingStatValue: 5}, logger)
	inv := inventory.NewService(db, logger)
	stories := story.NewService(db, session.NewManager(), interp, nil, logger)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	authH := rest.NewAuthHandler(db, ca, sec)
	charH := rest.NewCharacterHandler(db, chars)
	invH := rest.NewInventoryHandler(db, inv)
	campH := rest.NewCampaignHandler(db, stories)
	playH := rest.NewPlayHandler(stories)
	rankH := rest.NewRankingHandler(db, ca, logger)
	adminH := rest.NewAdminHandler(db, stories, sched, logger)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/auth/login", authH.Login)

	authed := api.Group("", mw.Auth(sec, ca))
	authed.POST("/auth/logout", authH.Logout)
	authed.POST("/auth/refresh", authH.Refresh)
	authed.POST("/characters", charH.Create)
	authed.GET("/characters", charH.List)
	authed.GET("/legacy", charH.Legacy)
	authed.GET("/characters/:id", charH.Get)
	authed.GET("/characters/:id/inventory", invH.List)
	authed.POST("/characters/:id/inventory/drop", invH.Drop)
	authed.POST("/characters/:id/inventory/equip", invH.Equip)
	authed.POST("/characters/:id/inventory/unequip", invH.Unequip)
	authed.GET("/campaigns", campH.List)
	authed.GET("/campaigns/:id", campH.Get)
	authed.POST("/play/start", playH.Start)
	authed.GET("/play/sessions", playH.Sessions)
	authed.GET("/play/sessions/:id/current", playH.Current)
	authed.POST("/play/sessions/:id/choice", playH.Choose)
	authed.POST("/play/sessions/:id/action", playH.Act)
	authed.GET("/ranking/xp", rankH.TopXP)

	adminG := api.Group("/admin", rest.AdminAuth(testAdminKey))
	adminG.GET("/metrics", adminH.Metrics)
	adminG.POST("/campaigns", adminH.CreateCampaign)
	adminG.POST("/campaigns/:id/start-node", adminH.SetStartNode)
	adminG.POST("/nodes", adminH.CreateNode)
	adminG.POST("/choices", adminH.CreateChoice)
	adminG.POST("/items", adminH.CreateItem)
	adminG.POST("/characters/:id/grant-item", adminH.GrantItem)
	adminG.POST("/accounts/:id/ban", adminH.BanAccount)
	adminG.POST("/ranking/refresh", rankH.RefreshHandler)

	e := &env{db: db, r: r}

	w := postJSON(r, "/api/auth/login", map[string]string{"username": "tester", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Token     string `json:"token"`
		AccountID int64  `json:"account_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	e.token = resp.Token
	e.accountID = resp.AccountID
	return e
}

func postJSON(r *gin.Engine, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getJSON(r *gin.Engine, path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func (e *env) post(path string, body interface{}) *httptest.ResponseRecorder {
	return postJSON(e.r, path, body, "Authorization", "Bearer "+e.token)
}

func (e *env) get(path string) *httptest.ResponseRecorder {
	return getJSON(e.r, path, "Authorization", "Bearer "+e.token)
}

func (e *env) adminPost(path string, body interface{}) *httptest.ResponseRecorder {
	return postJSON(e.r, path, body, "X-Admin-Key", testAdminKey)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}
