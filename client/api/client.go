// Package api ParkShare 消息服务 REST 客户端
//
// 服务端返回统一的 {code, message, data} 信封，非零 code 还原为 shared/errors 中的预定义错误；
// 请求未到达服务端或没有得到合法信封时返回 ErrNetworkFailure。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodySize    = 8 << 20
)

// Client REST 客户端，并发安全
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New baseURL 形如 http://host:8081/api/v1
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return sharedErrors.ErrInvalidParams.Wrap(err)
		}
		reader = bytes.NewReader(buf)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, reader, contentType, out)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return sharedErrors.ErrInvalidParams.Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return sharedErrors.ErrNetworkFailure.Wrap(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&env); err != nil {
		// 网关、代理返回的非信封响应
		return sharedErrors.ErrNetworkFailure.Wrap(fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, err))
	}
	if env.Code != sharedErrors.CodeSuccess {
		return sharedErrors.FromCode(env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return sharedErrors.ErrServerError.Wrap(fmt.Errorf("decode %s %s: %w", method, path, err))
	}
	return nil
}

func userPath(uid int64, suffix string) string {
	return "/users/" + strconv.FormatInt(uid, 10) + suffix
}

func conversationPath(id int64, suffix string) string {
	return "/conversations/" + strconv.FormatInt(id, 10) + suffix
}

// ============== 公钥目录与用户 ==============

type publicKeyBody struct {
	PublicKey string `json:"publicKey"`
}

// PutPublicKey 幂等发布公钥
func (c *Client) PutPublicKey(ctx context.Context, userID int64, armored string) error {
	return c.do(ctx, http.MethodPut, userPath(userID, "/publicKey"), publicKeyBody{PublicKey: armored}, nil)
}

// GetPublicKey 未发布时返回 ErrPublicKeyNotFound
func (c *Client) GetPublicKey(ctx context.Context, userID int64) (string, error) {
	var out publicKeyBody
	if err := c.do(ctx, http.MethodGet, userPath(userID, "/publicKey"), nil, &out); err != nil {
		return "", err
	}
	if out.PublicKey == "" {
		return "", sharedErrors.ErrPublicKeyNotFound
	}
	return out.PublicKey, nil
}

func (c *Client) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var out model.User
	if err := c.do(ctx, http.MethodGet, userPath(userID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateProfile(ctx context.Context, userID int64, displayName string) error {
	body := map[string]string{"displayName": displayName}
	return c.do(ctx, http.MethodPut, userPath(userID, "/profile"), body, nil)
}

// GetPresence 在线状态快照
func (c *Client) GetPresence(ctx context.Context, userID int64) (*model.PresenceRecord, error) {
	var out model.PresenceRecord
	if err := c.do(ctx, http.MethodGet, userPath(userID, "/presence"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Block(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodPost, userPath(userID, "/block"), nil, nil)
}

func (c *Client) Unblock(ctx context.Context, userID int64) error {
	return c.do(ctx, http.MethodDelete, userPath(userID, "/block"), nil, nil)
}

// ============== 会话 ==============

// ListOptions 会话列表过滤条件
type ListOptions struct {
	Archived bool
	Query    string
}

// InitialMessage 创建会话时附带的首条消息
type InitialMessage struct {
	ClientMsgID string             `json:"clientMsgId"`
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

// CreateConversationRequest 创建会话请求
type CreateConversationRequest struct {
	Participants   []int64         `json:"participants"`
	Subject        string          `json:"subject"`
	InitialMessage *InitialMessage `json:"initialMessage,omitempty"`
}

// CreateConversationResponse 创建会话响应
type CreateConversationResponse struct {
	Conversation *model.ConversationView `json:"conversation"`
	Message      *model.Message          `json:"message,omitempty"`
}

func (c *Client) ListConversations(ctx context.Context, opts ListOptions) ([]*model.ConversationView, error) {
	q := url.Values{}
	if opts.Archived {
		q.Set("archived", "true")
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	path := "/conversations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []*model.ConversationView
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*CreateConversationResponse, error) {
	var out CreateConversationResponse
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetConversation(ctx context.Context, id int64) (*model.ConversationView, error) {
	var out model.ConversationView
	if err := c.do(ctx, http.MethodGet, conversationPath(id, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages 按时间倒序分页，before 为 0 时从最新开始
func (c *Client) Messages(ctx context.Context, conversationID, before int64, limit int) ([]*model.Message, error) {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := conversationPath(conversationID, "/messages")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []*model.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead 批量标记已读，返回更新条数
func (c *Client) MarkRead(ctx context.Context, conversationID int64) (int, error) {
	var out struct {
		Updated int `json:"updated"`
	}
	if err := c.do(ctx, http.MethodPut, conversationPath(conversationID, "/read"), nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

// SetFlag value 为 nil 时翻转当前值
func (c *Client) SetFlag(ctx context.Context, conversationID int64, flag model.ConversationFlag, value *bool) (*model.ConversationView, error) {
	var body any
	if value != nil {
		body = map[string]bool{"value": *value}
	}
	var out model.ConversationView
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID, "/"+string(flag)), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID int64) error {
	return c.do(ctx, http.MethodDelete, conversationPath(conversationID, ""), nil, nil)
}

// ============== 消息 ==============

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	ConversationID int64              `json:"conversationId"`
	ClientMsgID    string             `json:"clientMsgId"`
	Content        string             `json:"content"`
	SenderID       int64              `json:"senderId,omitempty"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
}

func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*model.Message, error) {
	var out model.Message
	if err := c.do(ctx, http.MethodPost, "/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+strconv.FormatInt(messageID, 10), nil, nil)
}

// UploadAttachment 上传附件，返回可直接放入消息的描述
func (c *Client) UploadAttachment(ctx context.Context, filename, mimeType string, r io.Reader) (*model.Attachment, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, sharedErrors.ErrInvalidParams.Wrap(err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, sharedErrors.ErrInvalidParams.Wrap(err)
	}
	if err := w.Close(); err != nil {
		return nil, sharedErrors.ErrInvalidParams.Wrap(err)
	}

	var out model.Attachment
	if err := c.send(ctx, http.MethodPost, "/attachments", &buf, w.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
