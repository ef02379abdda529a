package telegram

import logx "dosebot/pkg/logx"

func logxNop() logx.Logger { return logx.Nop() }
