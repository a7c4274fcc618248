package gpucore

import "reflect"

// Kind identifies the category of a deferred GPU object.
//
// The set is closed: objects of different kinds never reference each other
// at destruction time, so a batch of deferred objects may be destroyed in any
// order.
type Kind uint8

// Deferred object kinds.
const (
	KindOther Kind = iota
	KindBuffer
	KindTexture
	KindSampler
	KindShader
	KindPipeline
	KindResourceBindings
	KindRenderPass
)

var kindNames = [...]string{
	KindOther:            "other",
	KindBuffer:           "buffer",
	KindTexture:          "texture",
	KindSampler:          "sampler",
	KindShader:           "shader",
	KindPipeline:         "pipeline",
	KindResourceBindings: "resource-bindings",
	KindRenderPass:       "render-pass",
}

// String returns the kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// DeferredObject is a GPU object scheduled for destruction.
//
// The scheduler owns Object from the moment it receives the value; the
// previous owner must not touch it again.
type DeferredObject struct {
	Kind   Kind
	Object Destroyable
}

// Defer wraps obj as a deferred object of the given kind.
func Defer(kind Kind, obj Destroyable) DeferredObject {
	return DeferredObject{Kind: kind, Object: obj}
}

// Valid reports whether the deferred object carries something to destroy.
// A nil pointer, map, func or channel stored in Object is invalid.
func (d DeferredObject) Valid() bool {
	return !isNil(d.Object)
}

// Destroy destroys the wrapped object. It is a no-op for invalid values.
func (d DeferredObject) Destroy() {
	if d.Valid() {
		d.Object.Destroy()
	}
}

func isNil(obj Destroyable) bool {
	if obj == nil {
		return true
	}
	switch v := reflect.ValueOf(obj); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// DestroyFunc adapts a function to the Destroyable interface.
type DestroyFunc func()

// Destroy calls f.
func (f DestroyFunc) Destroy() { f() }
