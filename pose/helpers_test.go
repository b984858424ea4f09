package pose

import "github.com/go-gl/mathgl/mgl32"

func near(a, b mgl32.Vec3, eps float32) bool {
	return a.Sub(b).Len() <= eps
}

func nearMat(a, b mgl32.Mat4, eps float32) bool {
	for i := range a {
		if abs32(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

func nearQuat(a, b mgl32.Quat, eps float32) bool {
	return abs32(a.W-b.W) <= eps && near(a.V, b.V, eps)
}
