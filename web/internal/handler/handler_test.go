package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/jwt"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
	"github.com/incyashraj/ParkShare-sub000/web/internal/middleware"
	"github.com/incyashraj/ParkShare-sub000/web/internal/service"
)

const testUserID int64 = 7

// MockDirectoryService 模拟目录服务
type MockDirectoryService struct {
	PutPublicKeyFunc  func(ctx context.Context, actorId, userId int64, armored string) error
	GetPublicKeyFunc  func(ctx context.Context, userId int64) (*service.PublicKeyResponse, error)
	UpdateProfileFunc func(ctx context.Context, actorId, userId int64, displayName string) error
	GetUserFunc       func(ctx context.Context, userId int64) (*model.User, error)
	BlockFunc         func(ctx context.Context, actorId, targetId int64) error
	UnblockFunc       func(ctx context.Context, actorId, targetId int64) error
	PresenceFunc      func(ctx context.Context, userId int64) (*model.PresenceRecord, error)
}

func (m *MockDirectoryService) PutPublicKey(ctx context.Context, actorId, userId int64, armored string) error {
	return m.PutPublicKeyFunc(ctx, actorId, userId, armored)
}

func (m *MockDirectoryService) GetPublicKey(ctx context.Context, userId int64) (*service.PublicKeyResponse, error) {
	return m.GetPublicKeyFunc(ctx, userId)
}

func (m *MockDirectoryService) UpdateProfile(ctx context.Context, actorId, userId int64, displayName string) error {
	return m.UpdateProfileFunc(ctx, actorId, userId, displayName)
}

func (m *MockDirectoryService) GetUser(ctx context.Context, userId int64) (*model.User, error) {
	return m.GetUserFunc(ctx, userId)
}

func (m *MockDirectoryService) Block(ctx context.Context, actorId, targetId int64) error {
	return m.BlockFunc(ctx, actorId, targetId)
}

func (m *MockDirectoryService) Unblock(ctx context.Context, actorId, targetId int64) error {
	return m.UnblockFunc(ctx, actorId, targetId)
}

func (m *MockDirectoryService) Presence(ctx context.Context, userId int64) (*model.PresenceRecord, error) {
	return m.PresenceFunc(ctx, userId)
}

// MockConversationService 模拟会话服务
type MockConversationService struct {
	CreateFunc     func(ctx context.Context, userId int64, req *service.CreateConversationRequest) (*service.CreateConversationResponse, error)
	GetFunc        func(ctx context.Context, userId, conversationId int64) (*model.ConversationView, error)
	ToggleFlagFunc func(ctx context.Context, userId, conversationId int64, flag string, value *bool) (*model.ConversationView, error)
	ListFunc       func(ctx context.Context, userId int64, filter service.ListFilter) ([]*model.ConversationView, error)
	DeleteFunc     func(ctx context.Context, userId, conversationId int64) error
	MarkReadFunc   func(ctx context.Context, userId, conversationId int64) (int, error)
}

func (m *MockConversationService) Create(ctx context.Context, userId int64, req *service.CreateConversationRequest) (*service.CreateConversationResponse, error) {
	return m.CreateFunc(ctx, userId, req)
}

func (m *MockConversationService) Get(ctx context.Context, userId, conversationId int64) (*model.ConversationView, error) {
	return m.GetFunc(ctx, userId, conversationId)
}

func (m *MockConversationService) ToggleFlag(ctx context.Context, userId, conversationId int64, flag string, value *bool) (*model.ConversationView, error) {
	return m.ToggleFlagFunc(ctx, userId, conversationId, flag, value)
}

func (m *MockConversationService) List(ctx context.Context, userId int64, filter service.ListFilter) ([]*model.ConversationView, error) {
	return m.ListFunc(ctx, userId, filter)
}

func (m *MockConversationService) Delete(ctx context.Context, userId, conversationId int64) error {
	return m.DeleteFunc(ctx, userId, conversationId)
}

func (m *MockConversationService) MarkRead(ctx context.Context, userId, conversationId int64) (int, error) {
	return m.MarkReadFunc(ctx, userId, conversationId)
}

// MockMessageService 模拟消息服务
type MockMessageService struct {
	SendFunc        func(ctx context.Context, senderId int64, req *service.SendMessageRequest) (*model.Message, error)
	ListFunc        func(ctx context.Context, userId, conversationId, beforeId int64, limit int) ([]*model.Message, error)
	DeleteFunc      func(ctx context.Context, userId, messageId int64) error
	ApplyStatusFunc func(ctx context.Context, userId int64, update *proto.StatusUpdate) error
}

func (m *MockMessageService) Send(ctx context.Context, senderId int64, req *service.SendMessageRequest) (*model.Message, error) {
	return m.SendFunc(ctx, senderId, req)
}

func (m *MockMessageService) List(ctx context.Context, userId, conversationId, beforeId int64, limit int) ([]*model.Message, error) {
	return m.ListFunc(ctx, userId, conversationId, beforeId, limit)
}

func (m *MockMessageService) Delete(ctx context.Context, userId, messageId int64) error {
	return m.DeleteFunc(ctx, userId, messageId)
}

func (m *MockMessageService) ApplyStatus(ctx context.Context, userId int64, update *proto.StatusUpdate) error {
	return m.ApplyStatusFunc(ctx, userId, update)
}

// MockUploader 模拟附件上传
type MockUploader struct {
	max        int64
	UploadFunc func(ctx context.Context, ownerId int64, filename, mimeType string, size int64, r io.Reader) (*model.Attachment, error)
}

func (m *MockUploader) Upload(ctx context.Context, ownerId int64, filename, mimeType string, size int64, r io.Reader) (*model.Attachment, error) {
	return m.UploadFunc(ctx, ownerId, filename, mimeType, size, r)
}

func (m *MockUploader) MaxSize() int64 { return m.max }

// APIResponse 测试用响应结构
type APIResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// setupTestRouter 创建测试路由，用固定用户代替 JWT 中间件
func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		middleware.SetClaims(c, &jwt.Claims{UserID: testUserID, DeviceID: "test-device"})
		c.Next()
	})
	return r
}

func doJSON(r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, APIResponse) {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp APIResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestUserHandler_PublicKey(t *testing.T) {
	var stored string
	mock := &MockDirectoryService{
		PutPublicKeyFunc: func(_ context.Context, actorId, userId int64, armored string) error {
			if actorId != userId {
				return sharedErrors.ErrForbidden
			}
			stored = armored
			return nil
		},
		GetPublicKeyFunc: func(_ context.Context, userId int64) (*service.PublicKeyResponse, error) {
			if userId == 99 {
				return nil, sharedErrors.ErrPublicKeyNotFound
			}
			return &service.PublicKeyResponse{UserID: userId, PublicKey: "armored"}, nil
		},
	}
	h := NewUserHandler(mock)
	r := setupTestRouter()
	r.PUT("/users/:uid/publicKey", h.PutPublicKey)
	r.GET("/users/:uid/publicKey", h.GetPublicKey)

	t.Run("publish own key", func(t *testing.T) {
		w, resp := doJSON(r, http.MethodPut, "/users/7/publicKey", map[string]string{"publicKey": "armored"})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, sharedErrors.CodeSuccess, resp.Code)
		assert.Equal(t, "armored", stored)
	})

	t.Run("publish for someone else", func(t *testing.T) {
		w, resp := doJSON(r, http.MethodPut, "/users/8/publicKey", map[string]string{"publicKey": "armored"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, sharedErrors.CodeForbidden, resp.Code)
	})

	t.Run("missing body field", func(t *testing.T) {
		w, resp := doJSON(r, http.MethodPut, "/users/7/publicKey", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, sharedErrors.CodeInvalidParams, resp.Code)
	})

	t.Run("fetch", func(t *testing.T) {
		w, resp := doJSON(r, http.MethodGet, "/users/8/publicKey", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var key service.PublicKeyResponse
		require.NoError(t, json.Unmarshal(resp.Data, &key))
		assert.Equal(t, int64(8), key.UserID)
		assert.Equal(t, "armored", key.PublicKey)
	})

	t.Run("fetch missing key is 404", func(t *testing.T) {
		w, resp := doJSON(r, http.MethodGet, "/users/99/publicKey", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, sharedErrors.CodePublicKeyNotFound, resp.Code)
	})

	t.Run("bad uid", func(t *testing.T) {
		w, _ := doJSON(r, http.MethodGet, "/users/abc/publicKey", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUserHandler_BlockAndPresence(t *testing.T) {
	var blocked, unblocked int64
	mock := &MockDirectoryService{
		BlockFunc: func(_ context.Context, actorId, targetId int64) error {
			assert.Equal(t, testUserID, actorId)
			blocked = targetId
			return nil
		},
		UnblockFunc: func(_ context.Context, _, targetId int64) error {
			unblocked = targetId
			return nil
		},
		PresenceFunc: func(_ context.Context, userId int64) (*model.PresenceRecord, error) {
			return &model.PresenceRecord{UserID: userId, Status: model.PresenceAway}, nil
		},
		UpdateProfileFunc: func(_ context.Context, actorId, userId int64, name string) error {
			if name == "" {
				return sharedErrors.ErrInvalidParams
			}
			return nil
		},
	}
	h := NewUserHandler(mock)
	r := setupTestRouter()
	r.POST("/users/:uid/block", h.Block)
	r.DELETE("/users/:uid/block", h.Unblock)
	r.GET("/users/:uid/presence", h.GetPresence)
	r.PUT("/users/:uid/profile", h.UpdateProfile)

	w, _ := doJSON(r, http.MethodPost, "/users/9/block", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(9), blocked)

	w, _ = doJSON(r, http.MethodDelete, "/users/9/block", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(9), unblocked)

	w, resp := doJSON(r, http.MethodGet, "/users/9/presence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rec model.PresenceRecord
	require.NoError(t, json.Unmarshal(resp.Data, &rec))
	assert.Equal(t, model.PresenceAway, rec.Status)

	w, _ = doJSON(r, http.MethodPut, "/users/7/profile", map[string]string{"displayName": "Alice"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConversationHandler_CreateBlocked(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		direction sharedErrors.Direction
	}{
		{"blocked by them", sharedErrors.ErrBlockedByThem, sharedErrors.DirectionBlockedByThem},
		{"blocked by me", sharedErrors.ErrBlockedByMe, sharedErrors.DirectionBlockedByMe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockConversationService{
				CreateFunc: func(context.Context, int64, *service.CreateConversationRequest) (*service.CreateConversationResponse, error) {
					return nil, tt.err
				},
			}
			h := NewConversationHandler(mock, &MockMessageService{})
			r := setupTestRouter()
			r.POST("/conversations", h.Create)

			w, resp := doJSON(r, http.MethodPost, "/conversations", map[string]any{"participants": []int64{8}})
			assert.Equal(t, http.StatusForbidden, w.Code)

			var data struct {
				Direction string `json:"direction"`
			}
			require.NoError(t, json.Unmarshal(resp.Data, &data))
			assert.Equal(t, string(tt.direction), data.Direction)
		})
	}
}

func TestConversationHandler_Create(t *testing.T) {
	mock := &MockConversationService{
		CreateFunc: func(_ context.Context, userId int64, req *service.CreateConversationRequest) (*service.CreateConversationResponse, error) {
			assert.Equal(t, testUserID, userId)
			require.NotNil(t, req.InitialMessage)
			return &service.CreateConversationResponse{
				Conversation: &model.ConversationView{ID: 100, Participants: []int64{7, 8}, Subject: req.Subject},
				Message:      &model.Message{ID: 1, ConversationID: 100, Content: req.InitialMessage.Content},
			}, nil
		},
	}
	h := NewConversationHandler(mock, &MockMessageService{})
	r := setupTestRouter()
	r.POST("/conversations", h.Create)

	w, resp := doJSON(r, http.MethodPost, "/conversations", map[string]any{
		"participants":   []int64{8},
		"subject":        "Bay 4",
		"initialMessage": map[string]string{"content": "Hello"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var out service.CreateConversationResponse
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, int64(100), out.Conversation.ID)
	assert.Equal(t, "Hello", out.Message.Content)

	w, _ = doJSON(r, http.MethodPost, "/conversations", map[string]any{"subject": "no participants"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConversationHandler_ToggleFlag(t *testing.T) {
	var gotFlag string
	var gotValue *bool
	mock := &MockConversationService{
		ToggleFlagFunc: func(_ context.Context, userId, convId int64, flag string, value *bool) (*model.ConversationView, error) {
			gotFlag, gotValue = flag, value
			return &model.ConversationView{ID: convId, Flags: model.UserFlags{Archived: true}}, nil
		},
	}
	h := NewConversationHandler(mock, &MockMessageService{})
	r := setupTestRouter()
	r.POST("/conversations/:id/star", h.ToggleFlag(model.FlagStar))
	r.POST("/conversations/:id/archive", h.ToggleFlag(model.FlagArchive))

	t.Run("without body flips", func(t *testing.T) {
		w, _ := doJSON(r, http.MethodPost, "/conversations/5/star", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "star", gotFlag)
		assert.Nil(t, gotValue)
	})

	t.Run("explicit value", func(t *testing.T) {
		w, resp := doJSON(r, http.MethodPost, "/conversations/5/archive", map[string]bool{"value": false})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "archive", gotFlag)
		require.NotNil(t, gotValue)
		assert.False(t, *gotValue)

		var view model.ConversationView
		require.NoError(t, json.Unmarshal(resp.Data, &view))
		assert.Equal(t, int64(5), view.ID)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/conversations/5/star", bytes.NewBufferString("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestConversationHandler_ListAndMessages(t *testing.T) {
	var gotFilter service.ListFilter
	var gotBefore int64
	var gotLimit int
	convs := &MockConversationService{
		ListFunc: func(_ context.Context, _ int64, filter service.ListFilter) ([]*model.ConversationView, error) {
			gotFilter = filter
			return nil, nil
		},
		MarkReadFunc: func(context.Context, int64, int64) (int, error) { return 3, nil },
		DeleteFunc: func(_ context.Context, _, convId int64) error {
			if convId == 404 {
				return sharedErrors.ErrConversationNotFound
			}
			return nil
		},
	}
	msgs := &MockMessageService{
		ListFunc: func(_ context.Context, _, _, before int64, limit int) ([]*model.Message, error) {
			gotBefore, gotLimit = before, limit
			return []*model.Message{{ID: 1}, {ID: 2}}, nil
		},
	}
	h := NewConversationHandler(convs, msgs)
	r := setupTestRouter()
	r.GET("/conversations", h.List)
	r.GET("/conversations/:id/messages", h.Messages)
	r.PUT("/conversations/:id/read", h.MarkRead)
	r.DELETE("/conversations/:id", h.Delete)

	w, resp := doJSON(r, http.MethodGet, "/conversations?archived=true&q=baker", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gotFilter.Archived)
	assert.Equal(t, "baker", gotFilter.Query)
	assert.JSONEq(t, "[]", string(resp.Data))

	w, resp = doJSON(r, http.MethodGet, "/conversations/5/messages?before=10&limit=20", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(10), gotBefore)
	assert.Equal(t, 20, gotLimit)
	var list []model.Message
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Len(t, list, 2)

	w, _ = doJSON(r, http.MethodGet, "/conversations/5/messages?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = doJSON(r, http.MethodPut, "/conversations/5/read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":3}`, string(resp.Data))

	w, resp = doJSON(r, http.MethodDelete, "/conversations/404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, sharedErrors.CodeConversationNotFound, resp.Code)
}

func TestMessageHandler_Send(t *testing.T) {
	var sender int64
	mock := &MockMessageService{
		SendFunc: func(_ context.Context, senderId int64, req *service.SendMessageRequest) (*model.Message, error) {
			sender = senderId
			if req.ConversationID == 13 {
				return nil, sharedErrors.ErrBlockedByThem
			}
			return &model.Message{
				ID:             42,
				ClientMsgID:    req.ClientMsgID,
				ConversationID: req.ConversationID,
				SenderID:       senderId,
				Content:        req.Content,
				Status:         model.StatusSent,
			}, nil
		},
		DeleteFunc: func(_ context.Context, _, id int64) error {
			if id == 1 {
				return sharedErrors.ErrNotMessageSender
			}
			return nil
		},
	}
	h := NewMessageHandler(mock)
	r := setupTestRouter()
	r.POST("/messages", h.Send)
	r.DELETE("/messages/:id", h.Delete)

	t.Run("sender comes from the token", func(t *testing.T) {
		w, resp := doJSON(r, http.MethodPost, "/messages", map[string]any{
			"conversationId": 5,
			"clientMsgId":    "tmp-1",
			"content":        "Hello",
			"senderId":       999,
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, testUserID, sender)

		var msg model.Message
		require.NoError(t, json.Unmarshal(resp.Data, &msg))
		assert.Equal(t, "tmp-1", msg.ClientMsgID)
		assert.Equal(t, model.StatusSent, msg.Status)
	})

	t.Run("blocked by them", func(t *testing.T) {
		w, resp := doJSON(r, http.MethodPost, "/messages", map[string]any{"conversationId": 13, "content": "hi"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, sharedErrors.CodeBlockedByThem, resp.Code)
		assert.JSONEq(t, `{"direction":"blocked-by-them"}`, string(resp.Data))
	})

	t.Run("missing conversation", func(t *testing.T) {
		w, _ := doJSON(r, http.MethodPost, "/messages", map[string]any{"content": "hi"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("delete", func(t *testing.T) {
		w, _ := doJSON(r, http.MethodDelete, "/messages/2", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		w, resp := doJSON(r, http.MethodDelete, "/messages/1", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, sharedErrors.CodeNotMessageSender, resp.Code)
	})
}

func TestAttachmentHandler_Upload(t *testing.T) {
	uploader := &MockUploader{
		max: 16,
		UploadFunc: func(_ context.Context, ownerId int64, filename, mimeType string, size int64, r io.Reader) (*model.Attachment, error) {
			data, _ := io.ReadAll(r)
			return &model.Attachment{
				URL:      "https://cdn.test/attachments/7/" + filename,
				Filename: filename,
				MimeType: mimeType,
				Size:     int64(len(data)),
			}, nil
		},
	}
	h := NewAttachmentHandler(uploader)
	r := setupTestRouter()
	r.POST("/attachments", h.Upload)

	upload := func(content string) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		fw, err := mw.CreateFormFile("file", "spot.jpg")
		require.NoError(t, err)
		_, _ = fw.Write([]byte(content))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/attachments", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := upload("jpegdata")
	require.Equal(t, http.StatusOK, w.Code)
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var att model.Attachment
	require.NoError(t, json.Unmarshal(resp.Data, &att))
	assert.Equal(t, "spot.jpg", att.Filename)
	assert.Equal(t, int64(8), att.Size)

	w = upload("this payload is larger than sixteen bytes")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	healthy := true
	h := NewHealthHandler(map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error {
			if !healthy {
				return sharedErrors.ErrDBError
			}
			return nil
		}),
	})
	r.GET("/health", h.Health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	healthy = false
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}
