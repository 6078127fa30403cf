package core

import (
	"github.com/xinkaiwang/chunkmgr/kerror"
)

// Metronome 是循环步计数器：warm-up 期间只递增，Reset 捕获迭代长度之后按
// totalSteps 取模循环。训练迭代高度周期化，这个计数器就是预测的坐标轴。
type Metronome struct {
	currentStep int
	totalSteps  int
	hasReset    bool
}

func NewMetronome() *Metronome {
	return &Metronome{}
}

// Tick advances one micro-step. No wraparound until Reset has captured the
// iteration length.
func (m *Metronome) Tick() {
	if m.hasReset {
		m.currentStep = (m.currentStep + 1) % m.totalSteps
	} else {
		m.currentStep++
	}
}

// Reset captures totalSteps = currentStep and rewinds to step 0. Called
// exactly once, at the end of the warm-up iteration.
func (m *Metronome) Reset() {
	if m.hasReset {
		panic(kerror.Create("MetronomeAlreadyReset", "metronome reset twice"))
	}
	if m.currentStep == 0 {
		panic(kerror.Create("MetronomeEmptyIteration", "reset before any tick"))
	}
	m.totalSteps = m.currentStep
	m.currentStep = 0
	m.hasReset = true
}

// NextStep predicts the upcoming step, modulo the iteration length.
func (m *Metronome) NextStep() int {
	if !m.hasReset {
		panic(kerror.Create("MetronomeNotReset", "nextStep before reset"))
	}
	return (m.currentStep + 1) % m.totalSteps
}

func (m *Metronome) CurrentStep() int {
	return m.currentStep
}

// TotalSteps is 0 until Reset.
func (m *Metronome) TotalSteps() int {
	return m.totalSteps
}
