// ops.go - Numeric kernels used by the pure-Go executor

package handwriting

import (
	"fmt"
	"math"
)

type activationFn func(data []float32, lastDim int)

func activation(name string) (activationFn, error) {
	switch name {
	case "", "linear":
		return func([]float32, int) {}, nil
	case "relu":
		return elementwise(func(x float32) float32 {
			if x < 0 {
				return 0
			}
			return x
		}), nil
	case "sigmoid":
		return elementwise(sigmoid), nil
	case "hard_sigmoid":
		return elementwise(hardSigmoid), nil
	case "tanh":
		return elementwise(tanh), nil
	case "softmax":
		return softmax, nil
	}
	return nil, fmt.Errorf("unsupported activation %q", name)
}

func elementwise(f func(float32) float32) activationFn {
	return func(data []float32, _ int) {
		for i, v := range data {
			data[i] = f(v)
		}
	}
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

func hardSigmoid(x float32) float32 {
	y := 0.2*x + 0.5
	if y < 0 {
		return 0
	}
	if y > 1 {
		return 1
	}
	return y
}

func tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// softmax normalizes each run of lastDim values.
func softmax(data []float32, lastDim int) {
	if lastDim <= 0 {
		return
	}
	for start := 0; start+lastDim <= len(data); start += lastDim {
		row := data[start : start+lastDim]
		maxV := row[0]
		for _, v := range row[1:] {
			if v > maxV {
				maxV = v
			}
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxV))
			row[i] = float32(e)
			sum += e
		}
		for i := range row {
			row[i] = float32(float64(row[i]) / sum)
		}
	}
}

// conv2D is a NHWC convolution without the batch dimension.
// in: [H, W, C], kernel: [KH, KW, C, F], bias: [F] or nil.
func conv2D(in, kernel, bias *Tensor, strides []int, same bool) (*Tensor, error) {
	if in.Rank() != 3 || kernel.Rank() != 4 {
		return nil, fmt.Errorf("conv2d expects [H,W,C] input and 4D kernel, got %v and %v", in.Shape, kernel.Shape)
	}
	h, w, c := in.Shape[0], in.Shape[1], in.Shape[2]
	kh, kw, kc, f := kernel.Shape[0], kernel.Shape[1], kernel.Shape[2], kernel.Shape[3]
	if kc != c {
		return nil, fmt.Errorf("conv2d kernel expects %d channels, input has %d", kc, c)
	}
	sh, sw := strides[0], strides[1]
	oh, padTop := outputDim(h, kh, sh, same)
	ow, padLeft := outputDim(w, kw, sw, same)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("conv2d output would be empty for input %v", in.Shape)
	}

	out := NewTensor(oh, ow, f)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			dst := out.Data[(oy*ow+ox)*f : (oy*ow+ox+1)*f]
			if bias != nil {
				copy(dst, bias.Data)
			}
			for ky := 0; ky < kh; ky++ {
				iy := oy*sh + ky - padTop
				if iy < 0 || iy >= h {
					continue
				}
				for kx := 0; kx < kw; kx++ {
					ix := ox*sw + kx - padLeft
					if ix < 0 || ix >= w {
						continue
					}
					src := in.Data[(iy*w+ix)*c : (iy*w+ix+1)*c]
					kBase := (ky*kw + kx) * c * f
					for ci, v := range src {
						if v == 0 {
							continue
						}
						kRow := kernel.Data[kBase+ci*f : kBase+(ci+1)*f]
						for fi := range dst {
							dst[fi] += v * kRow[fi]
						}
					}
				}
			}
		}
	}
	return out, nil
}

// maxPool2D pools [H, W, C] windows.
func maxPool2D(in *Tensor, pool, strides []int, same bool) (*Tensor, error) {
	if in.Rank() != 3 {
		return nil, fmt.Errorf("max pooling expects [H,W,C], got %v", in.Shape)
	}
	h, w, c := in.Shape[0], in.Shape[1], in.Shape[2]
	oh, padTop := outputDim(h, pool[0], strides[0], same)
	ow, padLeft := outputDim(w, pool[1], strides[1], same)
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("max pooling output would be empty for input %v", in.Shape)
	}

	out := NewTensor(oh, ow, c)
	for oy := 0; oy < oh; oy++ {
		for ox := 0; ox < ow; ox++ {
			dst := out.Data[(oy*ow+ox)*c : (oy*ow+ox+1)*c]
			for i := range dst {
				dst[i] = float32(math.Inf(-1))
			}
			for py := 0; py < pool[0]; py++ {
				iy := oy*strides[0] + py - padTop
				if iy < 0 || iy >= h {
					continue
				}
				for px := 0; px < pool[1]; px++ {
					ix := ox*strides[1] + px - padLeft
					if ix < 0 || ix >= w {
						continue
					}
					src := in.Data[(iy*w+ix)*c : (iy*w+ix+1)*c]
					for ci, v := range src {
						if v > dst[ci] {
							dst[ci] = v
						}
					}
				}
			}
		}
	}
	return out, nil
}

// outputDim follows the TensorFlow "same"/"valid" padding rules.
func outputDim(in, k, stride int, same bool) (out, padBefore int) {
	if same {
		out = (in + stride - 1) / stride
		padTotal := (out-1)*stride + k - in
		if padTotal < 0 {
			padTotal = 0
		}
		return out, padTotal / 2
	}
	return (in-k)/stride + 1, 0
}

// dense applies kernel [in, units] and bias to the last axis.
func dense(in, kernel, bias *Tensor) (*Tensor, error) {
	if kernel.Rank() != 2 {
		return nil, fmt.Errorf("dense kernel must be 2D, got %v", kernel.Shape)
	}
	inDim, units := kernel.Shape[0], kernel.Shape[1]
	if in.Rank() == 0 || in.Shape[in.Rank()-1] != inDim {
		return nil, fmt.Errorf("dense expects last dim %d, got shape %v", inDim, in.Shape)
	}
	rows := in.Size() / inDim
	shape := append(append([]int(nil), in.Shape[:in.Rank()-1]...), units)
	out := NewTensor(shape...)
	for r := 0; r < rows; r++ {
		src := in.Data[r*inDim : (r+1)*inDim]
		dst := out.Data[r*units : (r+1)*units]
		if bias != nil {
			copy(dst, bias.Data)
		}
		for i, v := range src {
			if v == 0 {
				continue
			}
			kRow := kernel.Data[i*units : (i+1)*units]
			for u := range dst {
				dst[u] += v * kRow[u]
			}
		}
	}
	return out, nil
}

// batchNorm normalizes along the last axis in place on a copy.
func batchNorm(in, gamma, beta, mean, variance *Tensor, epsilon float32) (*Tensor, error) {
	c := in.Shape[in.Rank()-1]
	if mean.Size() != c || variance.Size() != c {
		return nil, fmt.Errorf("batch norm statistics have %d channels, input has %d", mean.Size(), c)
	}
	out := in.clone()
	for i, v := range out.Data {
		ch := i % c
		norm := (v - mean.Data[ch]) / float32(math.Sqrt(float64(variance.Data[ch]+epsilon)))
		if gamma != nil {
			norm *= gamma.Data[ch]
		}
		if beta != nil {
			norm += beta.Data[ch]
		}
		out.Data[i] = norm
	}
	return out, nil
}

// reshape resolves a single -1 in target.
func reshape(in *Tensor, target []int) (*Tensor, error) {
	shape := append([]int(nil), target...)
	known, unknown := 1, -1
	for i, d := range shape {
		if d < 0 {
			if unknown >= 0 {
				return nil, fmt.Errorf("reshape target %v has more than one unknown dimension", target)
			}
			unknown = i
			continue
		}
		known *= d
	}
	if unknown >= 0 {
		if known == 0 || in.Size()%known != 0 {
			return nil, fmt.Errorf("cannot reshape %v into %v", in.Shape, target)
		}
		shape[unknown] = in.Size() / known
	}
	if shapeSize(shape) != in.Size() {
		return nil, fmt.Errorf("cannot reshape %v into %v", in.Shape, target)
	}
	return &Tensor{Shape: shape, Data: in.Data}, nil
}

// permute reorders axes; dims are 1-based as in Keras (batch excluded).
func permute(in *Tensor, dims []int) (*Tensor, error) {
	rank := in.Rank()
	if len(dims) != rank {
		return nil, fmt.Errorf("permute dims %v do not match rank %d", dims, rank)
	}
	perm := make([]int, rank)
	outShape := make([]int, rank)
	for i, d := range dims {
		if d < 1 || d > rank {
			return nil, fmt.Errorf("invalid permute dims %v", dims)
		}
		perm[i] = d - 1
		outShape[i] = in.Shape[d-1]
	}

	inStrides := strides(in.Shape)
	out := NewTensor(outShape...)
	idx := make([]int, rank)
	for o := range out.Data {
		src := 0
		for i := 0; i < rank; i++ {
			src += idx[i] * inStrides[perm[i]]
		}
		out.Data[o] = in.Data[src]
		for i := rank - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < outShape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return out, nil
}

func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// concatenate joins tensors along axis (negative counts from the end).
func concatenate(inputs []*Tensor, axis int) (*Tensor, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("concatenate needs inputs")
	}
	rank := inputs[0].Rank()
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("concatenate axis out of range for rank %d", rank)
	}
	outShape := append([]int(nil), inputs[0].Shape...)
	outShape[axis] = 0
	for _, t := range inputs {
		if t.Rank() != rank {
			return nil, fmt.Errorf("concatenate rank mismatch")
		}
		for i := range outShape {
			if i != axis && t.Shape[i] != inputs[0].Shape[i] {
				return nil, fmt.Errorf("concatenate shape mismatch %v vs %v", t.Shape, inputs[0].Shape)
			}
		}
		outShape[axis] += t.Shape[axis]
	}

	outer := shapeSize(outShape[:axis])
	out := NewTensor(outShape...)
	pos := 0
	for o := 0; o < outer; o++ {
		for _, t := range inputs {
			chunk := shapeSize(t.Shape[axis:])
			copy(out.Data[pos:pos+chunk], t.Data[o*chunk:(o+1)*chunk])
			pos += chunk
		}
	}
	return out, nil
}

func add(inputs []*Tensor) (*Tensor, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("add needs inputs")
	}
	out := inputs[0].clone()
	for _, t := range inputs[1:] {
		if !sameShape(t.Shape, out.Shape) {
			return nil, fmt.Errorf("add shape mismatch %v vs %v", t.Shape, out.Shape)
		}
		for i, v := range t.Data {
			out.Data[i] += v
		}
	}
	return out, nil
}

// lstmWeights are Keras LSTM parameters with gates ordered i, f, c, o.
type lstmWeights struct {
	kernel    *Tensor // [in, 4u]
	recurrent *Tensor // [u, 4u]
	bias      *Tensor // [4u] or nil
}

// lstm runs one direction over a [T, F] sequence. It returns [T, u] when
// sequences is true, else [u]. With reverse the sequence is read backwards
// and the per-step outputs are returned in processing order.
func lstm(in *Tensor, w lstmWeights, units int, act, recAct func(float32) float32, sequences, reverse bool) (*Tensor, error) {
	if in.Rank() != 2 {
		return nil, fmt.Errorf("lstm expects [T,F] input, got %v", in.Shape)
	}
	steps, feat := in.Shape[0], in.Shape[1]
	g := 4 * units
	if w.kernel.Rank() != 2 || w.kernel.Shape[0] != feat || w.kernel.Shape[1] != g {
		return nil, fmt.Errorf("lstm kernel %v does not match input features %d and units %d", w.kernel.Shape, feat, units)
	}
	if w.recurrent.Rank() != 2 || w.recurrent.Shape[0] != units || w.recurrent.Shape[1] != g {
		return nil, fmt.Errorf("lstm recurrent kernel %v does not match units %d", w.recurrent.Shape, units)
	}

	h := make([]float32, units)
	c := make([]float32, units)
	z := make([]float32, g)
	var out *Tensor
	if sequences {
		out = NewTensor(steps, units)
	}

	for s := 0; s < steps; s++ {
		t := s
		if reverse {
			t = steps - 1 - s
		}
		if w.bias != nil {
			copy(z, w.bias.Data)
		} else {
			for i := range z {
				z[i] = 0
			}
		}
		x := in.Data[t*feat : (t+1)*feat]
		for i, v := range x {
			if v == 0 {
				continue
			}
			row := w.kernel.Data[i*g : (i+1)*g]
			for j := range z {
				z[j] += v * row[j]
			}
		}
		for i, v := range h {
			if v == 0 {
				continue
			}
			row := w.recurrent.Data[i*g : (i+1)*g]
			for j := range z {
				z[j] += v * row[j]
			}
		}
		for u := 0; u < units; u++ {
			ig := recAct(z[u])
			fg := recAct(z[units+u])
			cc := act(z[2*units+u])
			og := recAct(z[3*units+u])
			c[u] = fg*c[u] + ig*cc
			h[u] = og * act(c[u])
		}
		if sequences {
			copy(out.Data[s*units:(s+1)*units], h)
		}
	}

	if !sequences {
		return &Tensor{Shape: []int{units}, Data: h}, nil
	}
	return out, nil
}

// reverseSteps flips a [T, F] sequence in time.
func reverseSteps(t *Tensor) *Tensor {
	steps, feat := t.Shape[0], t.Shape[1]
	out := NewTensor(steps, feat)
	for s := 0; s < steps; s++ {
		copy(out.Data[s*feat:(s+1)*feat], t.Data[(steps-1-s)*feat:(steps-s)*feat])
	}
	return out
}
