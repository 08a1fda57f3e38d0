// zorro-plugin builds the broker bridge as a c-shared library exposing the
// host's fixed entry-point set. Build with:
//
//	go build -buildmode=c-shared -o NT8Bridge.dll ./cmd/zorro-plugin
//
// The exported functions only marshal between C types and the broker
// package; all behavior lives in internal/broker.
package main

/*
#include <stdlib.h>
#include <string.h>

typedef int (*broker_message_fn)(const char* text);
typedef int (*broker_progress_fn)(int progress);

static int bridgeMessage(broker_message_fn f, const char* text) {
	if (f == 0) return 0;
	return f(text);
}

static int bridgeProgress(broker_progress_fn f, int progress) {
	if (f == 0) return 0;
	return f(progress);
}

typedef struct T6 {
	double time;
	float fHigh, fLow;
	float fOpen, fClose;
	float fVal, fVol;
} T6;
*/
import "C"

import (
	"unsafe"

	"go.uber.org/zap"

	"github.com/bigale/ninjatrader-zorro-plugin/internal/broker"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/config"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/logging"
	"github.com/bigale/ninjatrader-zorro-plugin/internal/model"
)

// configFile is looked up relative to the host's working directory.
const configFile = "ntbridge.yml"

var (
	bridge     *broker.Broker
	messageFn  C.broker_message_fn
	progressFn C.broker_progress_fn
)

func instance() *broker.Broker {
	if bridge == nil {
		cfg := config.LoadOrDefault(configFile)
		log, err := logging.Build(cfg.Log.Level, cfg.Log.File)
		if err != nil {
			log = zap.NewNop()
		}
		bridge = broker.New(cfg, log)
	}
	return bridge
}

func hostMessage(text string) int {
	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))
	return int(C.bridgeMessage(messageFn, ctext))
}

func hostProgress(progress int) int {
	return int(C.bridgeProgress(progressFn, C.int(progress)))
}

// copyString writes src into a host-owned buffer of the given size,
// truncating and NUL-terminating.
func copyString(dst *C.char, src string, size int) {
	cs := C.CString(src)
	defer C.free(unsafe.Pointer(cs))
	C.strncpy(dst, cs, C.size_t(size-1))
	buf := unsafe.Slice((*C.char)(dst), size)
	buf[size-1] = 0
}

//export BrokerOpen
func BrokerOpen(name *C.char, fpMessage C.broker_message_fn, fpProgress C.broker_progress_fn) C.int {
	messageFn = fpMessage
	progressFn = fpProgress

	pluginName, version := instance().Open(hostMessage, hostProgress)
	if name != nil {
		copyString(name, pluginName, 32)
	}
	return C.int(version)
}

//export BrokerLogin
func BrokerLogin(user, pwd, accountType, accounts *C.char) C.int {
	list, ok := instance().Login(C.GoString(user), C.GoString(pwd), C.GoString(accountType))
	if ok == 1 && accounts != nil {
		copyString(accounts, list, 1024)
	}
	return C.int(ok)
}

//export BrokerTime
func BrokerTime(pTimeUTC *C.double) C.int {
	utc, status := instance().Time()
	if status != 0 && pTimeUTC != nil {
		*pTimeUTC = C.double(utc)
	}
	return C.int(status)
}

//export BrokerAsset
func BrokerAsset(asset *C.char, pPrice, pSpread, pVolume, pPip, pPipCost, pLotAmount,
	pMargin, pRollLong, pRollShort, pCommission *C.double) C.int {

	symbol := C.GoString(asset)

	var price, spread, volume, pip, pipCost, lotAmount float64
	var pricePtr, spreadPtr, volumePtr, pipPtr, pipCostPtr, lotPtr *float64
	if pPrice != nil {
		pricePtr = &price
	}
	if pSpread != nil {
		spreadPtr = &spread
	}
	if pVolume != nil {
		volumePtr = &volume
	}
	if pPip != nil {
		pipPtr = &pip
	}
	if pPipCost != nil {
		pipCostPtr = &pipCost
	}
	if pLotAmount != nil {
		lotPtr = &lotAmount
	}

	ret := instance().Asset(symbol, pricePtr, spreadPtr, volumePtr, pipPtr, pipCostPtr, lotPtr)

	if pPrice != nil {
		*pPrice = C.double(price)
	}
	if pSpread != nil {
		*pSpread = C.double(spread)
	}
	if pVolume != nil {
		*pVolume = C.double(volume)
	}
	if pPip != nil {
		*pPip = C.double(pip)
	}
	if pPipCost != nil {
		*pPipCost = C.double(pipCost)
	}
	if pLotAmount != nil {
		*pLotAmount = C.double(lotAmount)
	}
	if pMargin != nil {
		*pMargin = 0
	}
	return C.int(ret)
}

//export BrokerAccount
func BrokerAccount(account *C.char, pBalance, pTradeVal, pMarginVal *C.double) C.int {
	var balance, tradeVal, margin float64
	ret := instance().Account(C.GoString(account), &balance, &tradeVal, &margin)
	if pBalance != nil {
		*pBalance = C.double(balance)
	}
	if pTradeVal != nil {
		*pTradeVal = C.double(tradeVal)
	}
	if pMarginVal != nil {
		*pMarginVal = C.double(margin)
	}
	return C.int(ret)
}

//export BrokerBuy2
func BrokerBuy2(asset *C.char, amount C.int, stopDist, limit C.double, pPrice *C.double, pFill *C.int) C.int {
	var fillPrice float64
	var filled int
	id := instance().Buy2(C.GoString(asset), int(amount), float64(stopDist), float64(limit), &fillPrice, &filled)
	if filled > 0 {
		if pPrice != nil {
			*pPrice = C.double(fillPrice)
		}
		if pFill != nil {
			*pFill = C.int(filled)
		}
	}
	return C.int(id)
}

//export BrokerTrade
func BrokerTrade(nTradeID C.int, pOpen, pClose, pCost, pProfit *C.double) C.int {
	var open, closePrice, cost, profit float64
	n := instance().Trade(int(nTradeID), &open, &closePrice, &cost, &profit)
	if n != broker.NotAvailable {
		if pOpen != nil {
			*pOpen = C.double(open)
		}
		if pClose != nil {
			*pClose = C.double(closePrice)
		}
		if pCost != nil {
			*pCost = C.double(cost)
		}
		if pProfit != nil {
			*pProfit = C.double(profit)
		}
	}
	return C.int(n)
}

//export BrokerSell2
func BrokerSell2(nTradeID, nAmount C.int, limit C.double, pClose, pCost, pProfit *C.double, pFill *C.int) C.int {
	var closePrice, cost, profit float64
	var filled int
	id := instance().Sell2(int(nTradeID), int(nAmount), float64(limit), &closePrice, &cost, &profit, &filled)
	if id != 0 && filled > 0 {
		if pClose != nil {
			*pClose = C.double(closePrice)
		}
		if pCost != nil {
			*pCost = C.double(cost)
		}
		if pProfit != nil {
			*pProfit = C.double(profit)
		}
		if pFill != nil {
			*pFill = C.int(filled)
		}
	}
	return C.int(id)
}

//export BrokerCommand
func BrokerCommand(command C.int, parameter C.size_t) C.double {
	code := int(command)
	switch code {
	case broker.GetPosition, broker.GetAvgEntry, broker.SetSymbol:
		if parameter == 0 {
			return 0
		}
		symbol := C.GoString((*C.char)(unsafe.Pointer(uintptr(parameter))))
		return C.double(instance().Command(code, symbol))
	default:
		return C.double(instance().Command(code, int(parameter)))
	}
}

//export BrokerHistory2
func BrokerHistory2(asset *C.char, tStart, tEnd C.double, nTickMinutes, nTicks C.int, ticks *C.T6) C.int {
	capacity := int(nTicks)
	if ticks == nil || capacity <= 0 {
		return 0
	}

	bars := make([]model.Bar, capacity)
	n := instance().History2(C.GoString(asset), float64(tStart), float64(tEnd), int(nTickMinutes), capacity, bars)

	dst := unsafe.Slice(ticks, capacity)
	for i := 0; i < n; i++ {
		dst[i].time = C.double(bars[i].Time)
		dst[i].fOpen = C.float(bars[i].Open)
		dst[i].fHigh = C.float(bars[i].High)
		dst[i].fLow = C.float(bars[i].Low)
		dst[i].fClose = C.float(bars[i].Close)
		dst[i].fVal = 0
		dst[i].fVol = C.float(bars[i].Volume)
	}
	return C.int(n)
}

func main() {}
