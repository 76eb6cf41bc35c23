package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sdk-detect/sdk-detect-go/internal/domain"
)

// TaskEvent 任务状态推送消息
type TaskEvent struct {
	TaskID           string            `json:"task_id"`
	Status           domain.TaskStatus `json:"status"`
	LibrariesMatched int               `json:"libraries_matched"`
	Timestamp        int64             `json:"timestamp"`
}

// TaskEventHub 向 WebSocket 客户端广播任务状态变化
// 客户端按 task_id 订阅，订阅 "all" 的客户端收到全部事件
type TaskEventHub struct {
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
	clients     map[*websocket.Conn]string
	clientMutex sync.RWMutex
	broadcast   chan TaskEvent
	stopChan    chan struct{}
}

// NewTaskEventHub 创建推送中心
func NewTaskEventHub(logger *logrus.Logger) *TaskEventHub {
	return &TaskEventHub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan TaskEvent, 100),
		stopChan:  make(chan struct{}),
	}
}

// Start 启动广播循环
func (h *TaskEventHub) Start() {
	go h.runBroadcaster()
}

// Stop 停止广播循环
func (h *TaskEventHub) Stop() {
	close(h.stopChan)
}

func (h *TaskEventHub) runBroadcaster() {
	for {
		select {
		case <-h.stopChan:
			return
		case event := <-h.broadcast:
			h.dispatch(event)
		}
	}
}

func (h *TaskEventHub) dispatch(event TaskEvent) {
	h.clientMutex.RLock()
	var stale []*websocket.Conn
	for conn, subscription := range h.clients {
		if subscription != "all" && subscription != event.TaskID {
			continue
		}
		if err := conn.WriteJSON(event); err != nil {
			h.logger.WithError(err).Warn("Failed to write to WebSocket client")
			stale = append(stale, conn)
		}
	}
	h.clientMutex.RUnlock()

	if len(stale) > 0 {
		h.clientMutex.Lock()
		for _, conn := range stale {
			conn.Close()
			delete(h.clients, conn)
		}
		h.clientMutex.Unlock()
	}
}

// HandleWebSocket 处理订阅连接
// GET /ws/tasks/:task_id，task_id 为 "all" 时订阅全部任务
func (h *TaskEventHub) HandleWebSocket(c *gin.Context) {
	subscription := c.Param("task_id")
	if subscription == "" {
		subscription = "all"
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	h.clientMutex.Lock()
	h.clients[conn] = subscription
	h.clientMutex.Unlock()

	h.logger.WithField("subscription", subscription).Info("WebSocket client connected")

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("WebSocket error")
			}
			break
		}
	}

	h.clientMutex.Lock()
	delete(h.clients, conn)
	h.clientMutex.Unlock()

	h.logger.WithField("subscription", subscription).Info("WebSocket client disconnected")
}

// NotifyTaskUpdate 广播任务状态变化，队列满时丢弃
func (h *TaskEventHub) NotifyTaskUpdate(taskID string, status domain.TaskStatus, librariesMatched int) {
	event := TaskEvent{
		TaskID:           taskID,
		Status:           status,
		LibrariesMatched: librariesMatched,
		Timestamp:        time.Now().Unix(),
	}

	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel is full, dropping event")
	}
}
