package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mogaika/mmd_pose/config"
	"github.com/mogaika/mmd_pose/gltfexport"
	"github.com/mogaika/mmd_pose/physics"
	"github.com/mogaika/mmd_pose/pose"
	"github.com/mogaika/mmd_pose/posescript"
	"github.com/mogaika/mmd_pose/record"
	"github.com/mogaika/mmd_pose/rig"
	"github.com/mogaika/mmd_pose/utils"
	"github.com/mogaika/mmd_pose/web"
)

func main() {
	settings, err := config.ParseEnv()
	if err != nil {
		log.Fatal(err)
	}

	var addr, rigPath, scriptPath, encoding, recordPath, glbPath string
	var fps float64
	var dump, kinematic bool
	flag.StringVar(&addr, "i", settings.Addr, "Address of server")
	flag.StringVar(&rigPath, "rig", settings.Rig, "Path to rig yaml")
	flag.StringVar(&scriptPath, "script", settings.Script, "Pose script to play")
	flag.StringVar(&encoding, "encoding", settings.Encoding, "Encoding of bone names in binary fields")
	flag.StringVar(&recordPath, "record", settings.RecordDB, "SQLite file to record solved frames into")
	flag.Float64Var(&fps, "fps", float64(settings.FPS), "Pose update rate")
	flag.BoolVar(&dump, "dump", false, "Dump the posed skeleton and exit")
	flag.StringVar(&glbPath, "glb", "", "Export the posed skeleton to glb file and exit")
	flag.BoolVar(&kinematic, "kinematic", false, "Start with every rigid body following its bone")
	flag.Parse()

	if rigPath == "" {
		flag.PrintDefaults()
		return
	}
	if fps <= 0 {
		log.Fatalf("fps must be positive, got %v", fps)
	}
	if err := config.SetEncoding(encoding); err != nil {
		log.Fatal(err)
	}

	r, err := rig.LoadFile(rigPath)
	if err != nil {
		log.Fatal(err)
	}
	model, bodies, err := rig.Build(r)
	if err != nil {
		log.Fatal(err)
	}

	var bridge *physics.Bridge
	if len(bodies) != 0 {
		bridge = physics.NewBridge(nil)
		for _, def := range bodies {
			if err := bridge.Bind(model.Skeleton, def, physics.NewHoldBody()); err != nil {
				log.Printf("[physics] %v", err)
			}
		}
		bridge.SetKinematic(model.Skeleton, kinematic)
		model.Physics = bridge
		model.RefreshChains()
	}

	var motion pose.Motion
	if scriptPath != "" {
		text, err := os.ReadFile(scriptPath)
		if err != nil {
			log.Fatal(err)
		}
		script, err := posescript.Parse(text)
		if err != nil {
			log.Fatalf("Script %q: %v", scriptPath, err)
		}
		motion = script
	}

	if _, err := model.Update(motion, 0, 0); err != nil {
		log.Fatal(err)
	}

	if dump {
		utils.Dump(model.Skeleton.Bones())
		return
	}
	if glbPath != "" {
		f, err := os.Create(glbPath)
		if err != nil {
			log.Fatal(err)
		}
		if err := gltfexport.WriteBinary(f, gltfexport.Export(model.Skeleton).Doc); err != nil {
			f.Close()
			log.Fatal(err)
		}
		if err := f.Close(); err != nil {
			log.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := web.NewServer(model, bridge)
	if motion != nil {
		server.SetMotion(motion)
	}
	if recordPath != "" {
		st, err := record.Open(recordPath)
		if err != nil {
			log.Fatal(err)
		}
		defer st.Close()
		if err := server.SetRecorder(ctx, st); err != nil {
			log.Fatal(err)
		}
	}

	running := make(chan struct{})
	go func() {
		defer close(running)
		server.Run(ctx, float32(fps))
	}()

	if err := web.StartServer(ctx, addr, server); err != nil {
		log.Fatal(err)
	}
	// recorder stays open until the last frame is written
	<-running
	log.Println("[web] Stopped")
}
