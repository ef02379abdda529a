package scheduler

import (
	_ "time/tzdata"

	logx "dosebot/pkg/logx"
)

func logxNop() logx.Logger { return logx.Nop() }
