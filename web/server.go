package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/mogaika/mmd_pose/physics"
	"github.com/mogaika/mmd_pose/pose"
	"github.com/mogaika/mmd_pose/record"
	"github.com/mogaika/mmd_pose/status"
)

// Server owns the model, every access goes through mu
type Server struct {
	mu sync.Mutex

	model  *pose.Model
	bridge *physics.Bridge
	motion pose.Motion
	frame  float32
	last   pose.FrameStats

	recorder *record.Store
	session  uuid.UUID
}

func NewServer(m *pose.Model, bridge *physics.Bridge) *Server {
	s := &Server{model: m, bridge: bridge}
	if bridge != nil {
		m.Physics = bridge
	}
	return s
}

func (s *Server) SetMotion(motion pose.Motion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.motion = motion
	s.frame = 0
}

// SetRecorder starts writing every stepped frame into a new session of st
func (s *Server) SetRecorder(ctx context.Context, st *record.Store) error {
	session, err := st.BeginSession(ctx, s.model.Name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = st
	s.session = session.ID
	log.Printf("[web] recording into session %v", session.ID)
	return nil
}

func (s *Server) update(dt float32) error {
	s.model.RefreshChains()
	stats, err := s.model.Update(s.motion, s.frame, dt)
	if err != nil {
		return err
	}
	s.last = stats
	return nil
}

// Step advances the pose by one frame of dt seconds at fps
func (s *Server) Step(ctx context.Context, dt, fps float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame += dt * fps
	if err := s.update(dt); err != nil {
		return err
	}
	if s.recorder != nil {
		if err := s.recorder.WriteFrame(ctx, s.session, s.frame, s.model.Skeleton); err != nil {
			return err
		}
	}
	status.Frame(s.last)
	return nil
}

// Run steps the pose at fps until ctx is done
func (s *Server) Run(ctx context.Context, fps float32) error {
	period := time.Duration(float32(time.Second) / fps)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	dt := 1 / fps
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Step(ctx, dt, fps); err != nil {
				log.Printf("[web] frame %v: %v", s.Frame(), err)
				status.Error("Frame failed: %v", err)
			}
		}
	}
}

func (s *Server) Frame() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func HandlerStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[web] ws upgrade: %v", err)
		return
	}
	status.NewClient(conn)
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/json/skeleton", s.HandlerSkeleton).Methods("GET")
	r.HandleFunc("/json/bone/{name}", s.HandlerBone).Methods("GET")
	r.HandleFunc("/json/chains", s.HandlerChains).Methods("GET")
	r.HandleFunc("/action/bone/{name}/{action:rotate|move}", s.HandlerBoneAction).Methods("POST")
	r.HandleFunc("/action/script", s.HandlerScript).Methods("POST")
	r.HandleFunc("/action/physics/{mode}", s.HandlerPhysics).Methods("POST")
	r.HandleFunc("/dump/skeleton.glb", s.HandlerDumpGLB).Methods("GET")
	r.HandleFunc("/dump/skeleton.json", s.HandlerDumpJSON).Methods("GET")
	r.HandleFunc("/render/{view}.webp", s.HandlerRender).Methods("GET")
	r.HandleFunc("/ws/status", HandlerStatus)
	return r
}

// Serve handles requests on l until ctx is done
func Serve(ctx context.Context, l net.Listener, s *Server) error {
	h := handlers.RecoveryHandler()(s.Router())
	h = handlers.LoggingHandler(os.Stdout, h)
	srv := &http.Server{Handler: h}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[web] shutdown: %v", err)
		}
	}()

	err := srv.Serve(l)
	if err == http.ErrServerClosed {
		<-done
		return nil
	}
	return err
}

func StartServer(ctx context.Context, addr string, s *Server) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "Failed to listen %q", addr)
	}
	log.Printf("[web] Starting server %v", addr)
	return Serve(ctx, l, s)
}
